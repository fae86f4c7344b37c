package hub

import "encoding/json"

const (
	TypeCouncilEvent      = "council_event"
	TypeConversationEvent = "conversation_event"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
	TypeError             = "error"
)

// CouncilEventMessage wraps one pipeline event of a streamed message.
type CouncilEventMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Event          json.RawMessage `json:"event"`
	Ts             int64           `json:"ts"`
}

// ConversationEventMessage reports changes to the conversation list
// (created, title_updated, deleted).
type ConversationEventMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Event          string `json:"event"`
	Data           any    `json:"data,omitempty"`
	Ts             int64  `json:"ts"`
}

type ClientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type SubscriptionMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type hubBroadcast struct {
	data           []byte
	conversationID string
}
