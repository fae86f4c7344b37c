package council

import (
	"regexp"
	"strings"
)

var (
	rankingHeaderPattern = regexp.MustCompile(`(?i)final\s+ranking\s*:`)
	numberedLabelPattern = regexp.MustCompile(`(?m)^[\s>*_-]*\d+\s*[.)]\s*[*_]*(Response [A-Z]+)\b`)
	anyLabelPattern      = regexp.MustCompile(`\bResponse [A-Z]+\b`)
)

// ParseRanking extracts an ordered, best-first permutation of labels from a
// judge's free-form reply. A FINAL RANKING block is authoritative when it
// names any label. A block naming an unknown label or one label twice rejects
// the judge; a block that only leaves labels out falls back to first mentions
// within the block, then within the whole reply. The result must name every
// label exactly once.
func ParseRanking(text string, labels []string) ([]string, bool) {
	if len(labels) == 0 || strings.TrimSpace(text) == "" {
		return nil, false
	}
	section, hasSection := rankingSection(text)
	if hasSection {
		entries := matchLabels(numberedLabelPattern, section)
		if len(entries) == 0 {
			entries = matchLabels(anyLabelPattern, section)
		}
		if len(entries) > 0 {
			if !isSubset(entries, labels) {
				return nil, false
			}
			if len(entries) == len(labels) {
				return entries, true
			}
			if mentions := firstMentions(matchLabels(anyLabelPattern, section)); isPermutation(mentions, labels) {
				return mentions, true
			}
		}
	}

	mentions := firstMentions(matchLabels(anyLabelPattern, text))
	if !isPermutation(mentions, labels) {
		return nil, false
	}
	return mentions, true
}

func rankingSection(text string) (string, bool) {
	locs := rankingHeaderPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return "", false
	}
	return text[locs[len(locs)-1][1]:], true
}

func matchLabels(re *regexp.Regexp, text string) []string {
	var out []string
	if re.NumSubexp() > 0 {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
		return out
	}
	return re.FindAllString(text, -1)
}

func firstMentions(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// isSubset reports whether entries names only known labels, each at most once.
func isSubset(entries, labels []string) bool {
	if len(entries) > len(labels) {
		return false
	}
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = false
	}
	for _, e := range entries {
		used, ok := known[e]
		if !ok || used {
			return false
		}
		known[e] = true
	}
	return true
}

func isPermutation(entries, labels []string) bool {
	if len(entries) != len(labels) {
		return false
	}
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = false
	}
	for _, e := range entries {
		used, ok := known[e]
		if !ok || used {
			return false
		}
		known[e] = true
	}
	return true
}
