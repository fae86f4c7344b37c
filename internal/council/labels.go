package council

const labelPrefix = "Response "

type labeledResponse struct {
	Label    string
	Response string
}

// LabelFor returns the anonymization label for position i: A..Z, AA, AB, ...
func LabelFor(i int) string {
	var letters []byte
	for n := i; n >= 0; n = n/26 - 1 {
		letters = append([]byte{byte('A' + n%26)}, letters...)
	}
	return labelPrefix + string(letters)
}

// AssignLabels maps labels to Stage 1 results by position.
func AssignLabels(stage1 []StageOneResult) (labels []string, labelToModel map[string]string) {
	labels = make([]string, len(stage1))
	labelToModel = make(map[string]string, len(stage1))
	for i, r := range stage1 {
		labels[i] = LabelFor(i)
		labelToModel[labels[i]] = r.Model
	}
	return labels, labelToModel
}

func labelResponses(stage1 []StageOneResult, labels []string) []labeledResponse {
	out := make([]labeledResponse, len(stage1))
	for i, r := range stage1 {
		out[i] = labeledResponse{Label: labels[i], Response: r.Response}
	}
	return out
}
