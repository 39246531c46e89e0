package messaging

import (
	"unicode/utf8"

	"github.com/opd-ai/toxclient/limits"
)

// SplitUTF8 cuts text into chunks that each fit a wire message of limit
// bytes, keeping limits.MessageChunkPadding bytes of headroom.
//
// A chunk never ends inside a codepoint. When a chunk overflows it is cut
// after the last space it contains, or at the last codepoint boundary if it
// has none. A space at the very start of a chunk is not a cut point. A codepoint wider than the budget is emitted on its own.
// Concatenating the chunks yields text unchanged.
func SplitUTF8(text string, limit int) []string {
	if text == "" {
		return nil
	}
	budget := limit - limits.MessageChunkPadding
	if budget < 1 {
		budget = 1
	}

	var chunks []string
	start, lastSep := 0, -1
	for i := 0; i < len(text); {
		_, n := utf8.DecodeRuneInString(text[i:])
		for i+n-start > budget && i > start {
			cut := i
			if lastSep > start+1 {
				cut = lastSep
			}
			chunks = append(chunks, text[start:cut])
			start = cut
			lastSep = -1
		}
		if text[i] == ' ' {
			lastSep = i + 1
		}
		i += n
	}
	return append(chunks, text[start:])
}
