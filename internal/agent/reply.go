package agent

import "strings"

// DefaultMaxSentences is the reply length contract.
const DefaultMaxSentences = 3

// NormalizeReply keeps at most maxSentences period-delimited sentences of
// raw, trimmed and rejoined with ". ", and always ends with a single period.
// Text with no sentences at all becomes ".".
func NormalizeReply(raw string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := make([]string, 0, maxSentences)
	for _, part := range strings.Split(raw, ".") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		sentences = append(sentences, s)
		if len(sentences) == maxSentences {
			break
		}
	}
	return strings.Join(sentences, ". ") + "."
}
