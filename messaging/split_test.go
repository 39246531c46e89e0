package messaging

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/opd-ai/toxclient/limits"
)

func TestSplitUTF8(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"empty", "", 8, nil},
		{"fits", "hi", 8, []string{"hi"}},
		{"exact_budget", "abcd", 8, []string{"abcd"}},
		{"hello_limit_8", "hello", 8, []string{"hell", "o"}},
		{"cut_after_space", "aa bb cc", 8, []string{"aa ", "bb ", "cc"}},
		{"leading_space", " abcdef", 8, []string{" abc", "def"}},
		{"leading_space_not_a_cut", " abcdefgh", 8, []string{" abc", "defg", "h"}},
		{"space_second_byte", "a bcdef", 8, []string{"a ", "bcde", "f"}},
		{"multibyte_not_split", "ééé", 7, []string{"é", "é", "é"}},
		{"mixed_width", "aé€", 7, []string{"aé", "€"}},
		{"lone_codepoint_wider_than_budget", "😀", 5, []string{"😀"}},
		{"degenerate_limit", "ab", limits.MinChunkLimit, []string{"a", "b"}},
		{"limit_below_padding", "ab", 0, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitUTF8(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitUTF8(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitUTF8Properties(t *testing.T) {
	alphabet := []rune{'a', 'b', ' ', 'é', '€', '😀', '\n'}
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 500; round++ {
		var sb strings.Builder
		for n := rng.Intn(200); n > 0; n-- {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()
		limit := limits.MinChunkLimit + rng.Intn(40)
		budget := limit - limits.MessageChunkPadding
		if budget < 1 {
			budget = 1
		}

		chunks := SplitUTF8(text, limit)
		if joined := strings.Join(chunks, ""); joined != text {
			t.Fatalf("round %d: join = %q, want %q", round, joined, text)
		}
		for i, c := range chunks {
			if c == "" {
				t.Fatalf("round %d: chunk %d is empty", round, i)
			}
			if !utf8.ValidString(c) {
				t.Fatalf("round %d: chunk %d %q splits a codepoint", round, i, c)
			}
			if len(c) > budget && utf8.RuneCountInString(c) != 1 {
				t.Fatalf("round %d: chunk %d has %d bytes, budget %d", round, i, len(c), budget)
			}
		}
	}
}

func TestSplitUTF8LargeMessage(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := SplitUTF8(text, limits.MaxPlaintextMessage)

	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d does not end at a space: %q", i, c[len(c)-8:])
		}
	}
}
