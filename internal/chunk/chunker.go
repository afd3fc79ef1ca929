// Package chunk splits document text into bounded overlapping chunks.
//
// Breaks prefer semantic separators (paragraph, line, sentence, word) found
// in the back half of the window, so chunks end on natural boundaries when
// the text offers one.
package chunk

import "strings"

// Separators tried in order when searching for a break point. The first
// separator with an occurrence in the window wins.
var Separators = []string{"\n\n", "\n", "。", ".", " "}

// MaxSeparatorLen is the longest separator in bytes; emitted chunks never
// exceed size + MaxSeparatorLen.
const MaxSeparatorLen = 3

// Split divides text into chunks of at most size bytes (plus a straddling
// separator), each overlapping the previous by overlap bytes unless a
// separator adjusted the break. Callers validate 0 <= overlap < size.
// Empty input yields nil.
func Split(text string, size, overlap int) []string {
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		breakPoint := end
		lo := start + size/2
		for _, sep := range Separators {
			if pos := lastIndexWithin(text, sep, lo, end); pos >= 0 {
				breakPoint = pos + len(sep)
				break
			}
		}

		chunks = append(chunks, text[start:breakPoint])

		next := breakPoint - overlap
		if next <= start {
			// Overlap would move the cursor backwards when a separator
			// break lands close to the window start; skip the overlap for
			// this step to guarantee progress.
			next = breakPoint
		}
		start = next
	}
	return chunks
}

// lastIndexWithin finds the rightmost occurrence of sep whose start lies in
// [lo, hi). The occurrence may extend past hi, which is what lets a chunk
// exceed size by at most len(sep).
func lastIndexWithin(text, sep string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if lo >= len(text) || hi <= lo {
		return -1
	}
	// Extend the search window so occurrences starting at hi-1 are found
	// even when the separator straddles hi.
	searchEnd := hi + len(sep) - 1
	if searchEnd > len(text) {
		searchEnd = len(text)
	}
	idx := strings.LastIndex(text[lo:searchEnd], sep)
	if idx < 0 {
		return -1
	}
	pos := lo + idx
	if pos >= hi {
		return -1
	}
	return pos
}
