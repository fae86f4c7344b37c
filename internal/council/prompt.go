package council

import (
	"fmt"
	"regexp"
	"strings"
)

const finalRankingHeader = "FINAL RANKING:"

func buildClarifierPrompt(query string) string {
	var b strings.Builder
	b.WriteString("You screen questions before they are sent to a panel of expert models.\n")
	b.WriteString("Decide whether the question below is so ambiguous that asking the user one clarifying question would materially change the answer.\n")
	b.WriteString("Most questions are clear enough; only ask when different reasonable readings lead to substantially different answers.\n\n")
	b.WriteString("Question: " + query + "\n\n")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"needs_clarification": true|false, "question": "<clarifying question, empty when not needed>", "options": ["<short suggested answer>", "..."]}`)
	b.WriteString("\n")
	return b.String()
}

func buildRankingPrompt(query string, labeled []labeledResponse) string {
	var b strings.Builder
	b.WriteString("You are evaluating different responses to the following question:\n\n")
	b.WriteString("Question: " + query + "\n\n")
	b.WriteString("Here are the responses, anonymized:\n\n")
	for _, lr := range labeled {
		b.WriteString(fmt.Sprintf("%s:\n%s\n\n", lr.Label, lr.Response))
	}
	b.WriteString("Your task:\n")
	b.WriteString("1. Evaluate each response on its own: what it does well and what it does poorly.\n")
	b.WriteString("2. At the very end of your reply, give your final ranking of every response.\n\n")
	b.WriteString("The final ranking MUST use exactly this format:\n")
	b.WriteString("- A line containing only \"" + finalRankingHeader + "\"\n")
	b.WriteString("- Then a numbered list from best to worst, one response per line, e.g. \"1. " + labeled[0].Label + "\"\n")
	b.WriteString("- Every response appears exactly once and nothing else is written in that section\n\n")
	b.WriteString("Example:\n\n")
	b.WriteString("Response A covers the basics but misses edge cases...\n")
	b.WriteString("Response B is precise and well sourced...\n\n")
	b.WriteString(finalRankingHeader + "\n")
	b.WriteString("1. Response B\n")
	b.WriteString("2. Response A\n\n")
	b.WriteString("Now write your evaluation and ranking:")
	return b.String()
}

func buildChairmanPrompt(query string, stage1 []StageOneResult, stage2 []StageTwoResult, labelToModel map[string]string) string {
	var b strings.Builder
	b.WriteString("You are the Chairman of an LLM Council. Several models answered a user's question and then ranked each other's answers anonymously.\n\n")
	b.WriteString("Original question: " + query + "\n\n")
	b.WriteString("STAGE 1 - Individual answers:\n\n")
	for _, r := range stage1 {
		b.WriteString(fmt.Sprintf("Model: %s\nAnswer: %s\n\n", r.Model, r.Response))
	}
	b.WriteString("STAGE 2 - Peer rankings:\n\n")
	for _, r := range stage2 {
		order := make([]string, 0, len(r.ParsedRanking))
		for i, label := range r.ParsedRanking {
			order = append(order, fmt.Sprintf("%d. %s", i+1, resolveLabel(label, labelToModel)))
		}
		b.WriteString(fmt.Sprintf("Judge: %s\nRanking: %s\nEvaluation: %s\n\n", r.Model, strings.Join(order, ", "), deanonymize(r.Ranking, labelToModel)))
	}
	b.WriteString("Your task as Chairman is to synthesize everything above into a single, comprehensive, accurate answer to the original question. Consider:\n")
	b.WriteString("- the individual answers and their insights\n")
	b.WriteString("- the peer rankings and what they reveal about answer quality\n")
	b.WriteString("- any patterns of agreement or disagreement\n\n")
	b.WriteString("Provide a clear, well-reasoned final answer that represents the council's collective wisdom:")
	return b.String()
}

func buildTitlePrompt(message string) string {
	var b strings.Builder
	b.WriteString("Generate a very short title (3-5 words maximum) that summarizes the following question.\n")
	b.WriteString("The title should be concise and descriptive. Do not use quotes or punctuation in the title.\n\n")
	b.WriteString("Question: " + message + "\n\n")
	b.WriteString("Title:")
	return b.String()
}

func resolveLabel(label string, labelToModel map[string]string) string {
	if model, ok := labelToModel[label]; ok {
		return model
	}
	return label
}

var labelMention = regexp.MustCompile(`\bResponse ([A-Z]+)\b`)

// deanonymize rewrites label mentions in judge text to model ids.
func deanonymize(text string, labelToModel map[string]string) string {
	return labelMention.ReplaceAllStringFunc(text, func(m string) string {
		if model, ok := labelToModel[m]; ok {
			return model
		}
		return m
	})
}
