// Package response turns raw backend text into user-facing text and splits
// it for transports with length limits.
package response

import "strings"

// cutPointArtifacts are trimmed from the start of a reply after an echoed
// prompt is removed.
const cutPointArtifacts = " \r\n]-:"

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Finalize strips an echoed prompt block and optionally flattens the text to
// a single line.
//
// If echo occurs in raw, everything up to and including its last occurrence
// is discarded. Some backends repeat the prompt before continuing.
func Finalize(raw, echo string, removeLineBreaks bool) string {
	text := raw
	if echo != "" {
		if i := strings.LastIndex(text, echo); i >= 0 {
			text = strings.TrimLeft(text[i+len(echo):], cutPointArtifacts)
		}
	}

	if removeLineBreaks {
		text = lineBreaks.Replace(text)
		for strings.Contains(text, "  ") {
			text = strings.ReplaceAll(text, "  ", " ")
		}
	}
	return strings.TrimSpace(text)
}
