package translate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Placeholder sentinels wrap a numeric index in NUL bytes so they survive
// the model round-trip untouched: models do not rewrite control characters,
// and real text never contains them.
const (
	placeholderPrefix = "\x00PH"
	placeholderSuffix = "\x00"
)

// Patterns protected from translation, applied in order. URL before email so
// that a URL containing an @ is not half-consumed by the email pattern.
var protectedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://[^\s<>"]+`),
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile("`[^`\n]+`"),
	regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:%|°C|°F|km|cm|mm|kg|mg|ms|GB|MB|KB|TB|GHz|MHz|px|pt)\b`),
}

// Normalized is the output of [Normalize]: the text with protected spans
// replaced by placeholder sentinels, plus everything needed to restore them.
type Normalized struct {
	// Text is the protected text handed to the glossary matcher, cache key,
	// and model.
	Text string

	// SourceLang is the caller's hint when present, otherwise a cheap local
	// detection ("zh", "en", or "" when undecidable).
	SourceLang string

	// placeholders maps sentinel -> original span, in insertion order by
	// index so Restore can iterate deterministically.
	placeholders []string
}

// Normalize prepares source text for translation: trims it, resolves the
// source-language hint, and replaces URLs, emails, inline code spans, and
// number+unit tokens with reversible placeholders.
func Normalize(text, sourceLangHint string) Normalized {
	n := Normalized{SourceLang: sourceLangHint}

	out := strings.TrimSpace(text)
	for _, pat := range protectedPatterns {
		out = pat.ReplaceAllStringFunc(out, func(match string) string {
			idx := len(n.placeholders)
			n.placeholders = append(n.placeholders, match)
			return fmt.Sprintf("%s%d%s", placeholderPrefix, idx, placeholderSuffix)
		})
	}
	n.Text = out

	if n.SourceLang == "" {
		n.SourceLang = detectLang(out)
	}
	return n
}

// Restore replaces every placeholder sentinel in translated with its
// original span. Placeholders the model dropped are simply absent from the
// output; ones it preserved come back verbatim.
func (n Normalized) Restore(translated string) string {
	out := translated
	for idx, original := range n.placeholders {
		sentinel := fmt.Sprintf("%s%d%s", placeholderPrefix, idx, placeholderSuffix)
		out = strings.ReplaceAll(out, sentinel, original)
	}
	return out
}

// detectLang is a cheap local language sniff: any CJK rune means "zh", any
// Latin letter with none means "en", otherwise undecided.
func detectLang(text string) string {
	var hasLatin bool
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
		if r < 128 && unicode.IsLetter(r) {
			hasLatin = true
		}
	}
	if hasLatin {
		return "en"
	}
	return ""
}
