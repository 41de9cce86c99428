package agent

import (
	"math"
	"strings"
	"unicode"
)

// Tokenize 分词：中文按单字切分，英文按词切分，统一小写并过滤停用词。
// Questions and knowledge text pass through here before lexical scoring;
// mixed input like "本月top5地区" yields both kinds of tokens.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	text = strings.ToLower(text)

	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if keepToken(w) {
			tokens = append(tokens, w)
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			ch := string(r)
			if !cjkStopwords[ch] {
				tokens = append(tokens, ch)
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// TermFrequencies folds a token stream into a term frequency map for
// cosine scoring.
func TermFrequencies(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	freq := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

// cosineFreq scores two term frequency maps without materializing a shared
// vocabulary vector.
func cosineFreq(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	var dot float64
	for t, v := range small {
		if w, ok := large[t]; ok {
			dot += v * w
		}
	}
	if dot == 0 {
		return 0
	}

	var normA, normB float64
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// isCJK reports whether a rune is a CJK ideograph.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // Extension A
		(r >= 0xF900 && r <= 0xFAFF) || // Compatibility Ideographs
		(r >= 0x20000 && r <= 0x2A6DF) // Extension B
}

func keepToken(token string) bool {
	if token == "" {
		return false
	}
	if len(token) == 1 {
		return false
	}
	return !englishStopwords[token]
}

var englishStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"of": true, "in": true, "to": true, "for": true, "with": true,
	"on": true, "at": true, "by": true, "from": true, "as": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"so": true, "than": true, "that": true, "this": true, "these": true,
	"those": true, "it": true, "its": true, "what": true, "which": true,
	"how": true, "show": true, "me": true,
}

var cjkStopwords = map[string]bool{
	"的": true, "了": true, "是": true, "在": true, "我": true,
	"有": true, "和": true, "就": true, "不": true, "都": true,
	"一": true, "上": true, "也": true, "很": true, "到": true,
	"说": true, "要": true, "去": true, "你": true, "会": true,
	"着": true, "看": true, "好": true, "这": true, "那": true,
	"里": true, "请": true, "吗": true, "呢": true,
}
