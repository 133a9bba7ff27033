package extraction

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
)

// DefaultFillerWords are dropped when no filler words are configured.
var DefaultFillerWords = []string{"um", "uh", "erm", "er", "hmm", "mm", "uhm"}

// Heuristic cleans up speech recognition output without a model: it drops
// filler words, collapses stutter repeats and whitespace, capitalises the
// first letter and ends the sentence.
type Heuristic struct {
	fillers map[string]struct{}
}

var _ conversation.Extractor = (*Heuristic)(nil)

// NewHeuristic creates a Heuristic extractor. Matching is case-insensitive.
func NewHeuristic(fillerWords []string) *Heuristic {
	if len(fillerWords) == 0 {
		fillerWords = DefaultFillerWords
	}
	fillers := make(map[string]struct{}, len(fillerWords))
	for _, w := range fillerWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			fillers[w] = struct{}{}
		}
	}
	return &Heuristic{fillers: fillers}
}

// Extract ignores history; the clean-up is local to the utterance.
func (h *Heuristic) Extract(_ context.Context, _ []conversation.Message, latestUserText string) (string, error) {
	out := h.Clean(latestUserText)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

// Clean applies the clean-up rules to text. It returns "" when nothing
// but filler remains.
func (h *Heuristic) Clean(text string) string {
	words := strings.Fields(text)
	kept := make([]string, 0, len(words))
	prev := ""
	for _, w := range words {
		bare := bareWord(w)
		if bare == "" {
			continue
		}
		if _, ok := h.fillers[bare]; ok {
			continue
		}
		if bare == prev {
			continue
		}
		kept = append(kept, w)
		prev = bare
	}
	if len(kept) == 0 {
		return ""
	}

	out := strings.Join(kept, " ")
	out = strings.TrimRight(out, ",;:")
	first, size := utf8.DecodeRuneInString(out)
	out = string(unicode.ToUpper(first)) + out[size:]

	last, _ := utf8.DecodeLastRuneInString(out)
	if last != '.' && last != '!' && last != '?' {
		out += "."
	}
	return out
}

// bareWord lowercases w and strips surrounding punctuation.
func bareWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	}))
}
