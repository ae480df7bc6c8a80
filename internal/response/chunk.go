package response

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// retainedDelimiters end a chunk and stay attached to it. Whitespace also
// ends a chunk but is dropped.
const retainedDelimiters = "。、！？，．…,.!?;；"

func isRetained(r rune) bool {
	return strings.ContainsRune(retainedDelimiters, r)
}

// ChunkByDelimiter splits text into chunks of at most maxChars characters
// (runes), breaking at the last whitespace or delimiter in each window. A
// window without any break point is cut hard. Each chunk has leading
// whitespace trimmed. The returned sequence can be ranged over repeatedly.
func ChunkByDelimiter(text string, maxChars int) iter.Seq[string] {
	if maxChars < 1 {
		maxChars = 1
	}
	return chunks(text, func(rest []rune) int {
		return min(len(rest), maxChars)
	})
}

// ChunkByByteBudget is ChunkByDelimiter with the limit measured in UTF-8
// bytes. The window is shrunk one character at a time until it fits before a
// break point is searched for, so no chunk exceeds maxBytes. A character that
// alone exceeds maxBytes is dropped.
func ChunkByByteBudget(text string, maxBytes int) iter.Seq[string] {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return chunks(text, func(rest []rune) int {
		n := min(len(rest), maxBytes)
		size := 0
		for _, r := range rest[:n] {
			size += utf8.RuneLen(r)
		}
		for n > 0 && size > maxBytes {
			n--
			size -= utf8.RuneLen(rest[n])
		}
		return n
	})
}

// chunks drives both chunkers. window returns how many leading runes of rest
// fit the limit.
func chunks(text string, window func(rest []rune) int) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := trimLeftSpace([]rune(text))
		for len(rest) > 0 {
			n := window(rest)
			if n == 0 {
				L_trace("response: dropping character larger than chunk budget", "rune", string(rest[0]))
				rest = trimLeftSpace(rest[1:])
				continue
			}

			var cut, next int
			if n == len(rest) {
				cut, next = n, n
			} else {
				cut, next = splitPoint(rest, n)
			}

			chunk := strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace)
			rest = trimLeftSpace(rest[next:])
			if chunk == "" {
				continue
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// splitPoint picks where to end a chunk whose window is rest[:n] and
// n < len(rest). cut is the exclusive chunk end, next is where the following
// chunk starts.
func splitPoint(rest []rune, n int) (cut, next int) {
	// The window ends exactly before a space: take all of it.
	if unicode.IsSpace(rest[n]) {
		return n, n + 1
	}
	for i := n - 1; i >= 0; i-- {
		r := rest[i]
		switch {
		case unicode.IsSpace(r) && i > 0:
			return i, i + 1
		case isRetained(r):
			return i + 1, i + 1
		}
	}
	return n, n
}

func trimLeftSpace(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}
