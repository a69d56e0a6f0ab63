package tokens

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// ApproxTokensPerWord is the ratio used when no tokenizer is available.
const ApproxTokensPerWord = 1.33

// DefaultSafetyMargin is the fraction of the context window a request may fill.
const DefaultSafetyMargin = 0.8

// Counter measures text in tokens. Implementations must be pure: the same
// text always yields the same count.
type Counter interface {
	Count(text string) int
	// Tail returns the trailing slice of text worth about n tokens.
	Tail(text string, n int) string
	Approximate() bool
	Name() string
}

// Tiktoken counts with a BPE encoding from tiktoken-go.
type Tiktoken struct {
	codec tokenizer.Codec
	name  string
}

// NewTiktoken loads the encoding for model, falling back to the named
// encoding (cl100k_base when empty) for models tiktoken does not know.
func NewTiktoken(model, encoding string) (*Tiktoken, error) {
	if model != "" {
		if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
			return &Tiktoken{codec: codec, name: codec.GetName()}, nil
		}
	}
	if encoding == "" {
		encoding = string(tokenizer.Cl100kBase)
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{codec: codec, name: encoding}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return approxCount(text, ApproxTokensPerWord)
	}
	return len(ids)
}

func (t *Tiktoken) Tail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return wordTail(text, n, ApproxTokensPerWord)
	}
	if len(ids) <= n {
		return text
	}
	tail, err := t.codec.Decode(ids[len(ids)-n:])
	if err != nil {
		return wordTail(text, n, ApproxTokensPerWord)
	}
	// A decoded suffix always matches the end of the source, except where
	// the cut lands inside a multi-byte rune.
	if !strings.HasSuffix(text, tail) {
		return wordTail(text, n, ApproxTokensPerWord)
	}
	return strings.TrimLeft(tail, " \t\n")
}

func (t *Tiktoken) Approximate() bool { return false }
func (t *Tiktoken) Name() string      { return t.name }

// Words approximates tokens from the word count.
type Words struct {
	Ratio float64
}

// NewWords returns a word counter; a non-positive ratio selects ApproxTokensPerWord.
func NewWords(ratio float64) *Words {
	if ratio <= 0 {
		ratio = ApproxTokensPerWord
	}
	return &Words{Ratio: ratio}
}

func (w *Words) Count(text string) int { return approxCount(text, w.Ratio) }

func (w *Words) Tail(text string, n int) string { return wordTail(text, n, w.Ratio) }

func (w *Words) Approximate() bool { return true }

func (w *Words) Name() string { return fmt.Sprintf("words×%g", w.Ratio) }

// Resolve returns an exact tiktoken counter when possible and the word
// approximation otherwise. The error, if any, explains the fallback.
func Resolve(model, encoding string) (Counter, error) {
	tk, err := NewTiktoken(model, encoding)
	if err != nil {
		return NewWords(ApproxTokensPerWord), fmt.Errorf("tokenizer unavailable, using word approximation: %w", err)
	}
	return tk, nil
}

// RequiresChunking reports whether a document of totalTokens plus the fixed
// prompt overhead exceeds the usable share of the context window. An unknown
// limit (<= 0) never requires chunking.
func RequiresChunking(totalTokens, promptOverhead, contextLimit int, safetyMargin float64) bool {
	if contextLimit <= 0 {
		return false
	}
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = DefaultSafetyMargin
	}
	return float64(totalTokens+promptOverhead) > float64(contextLimit)*safetyMargin
}

// UsableBudget is the per-request token allowance left for document content.
func UsableBudget(contextLimit, promptOverhead int, safetyMargin float64) int {
	if contextLimit <= 0 {
		return 0
	}
	return int(float64(contextLimit)*safetyMargin) - promptOverhead
}

// approxCount scales the word count by ratio. Han and kana runes are
// written without spaces and count as one word each.
func approxCount(text string, ratio float64) int {
	if text == "" {
		return 0
	}
	words := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case dense(r):
			words++
			inWord = false
		case !inWord:
			words++
			inWord = true
		}
	}
	tokens := int(math.Floor(float64(words)*ratio + 1e-9))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// wordTail returns the suffix of text holding the last n/ratio words,
// counted the way approxCount counts them. The suffix starts at a word
// boundary and keeps the original spacing.
func wordTail(text string, n int, ratio float64) string {
	if n <= 0 {
		return ""
	}
	want := int(float64(n) / ratio)
	if want < 1 {
		want = 1
	}
	start := len(text)
	i := len(text)
	for want > 0 && i > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if unicode.IsSpace(r) {
			i -= size
			continue
		}
		if dense(r) {
			i -= size
		} else {
			for i > 0 {
				r, size = utf8.DecodeLastRuneInString(text[:i])
				if unicode.IsSpace(r) || dense(r) {
					break
				}
				i -= size
			}
		}
		start = i
		want--
	}
	return strings.TrimRight(text[start:], " \t\n")
}

func dense(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}
