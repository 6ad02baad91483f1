// Package text normalizes input text before synthesis. Neural synthesis
// backends stumble over digits, citation markers and typographic
// punctuation; the normalizer rewrites those into speakable form.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Number-to-words boundaries.
const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	maxNumberForWords  = 999999
)

// Regex patterns for stripping non-speakable content.
const (
	numberRegexPattern     = `\d+`
	referenceRegexPattern  = `(?:\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+)`
	citationRegexPattern   = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
)

// Typographic punctuation normalized to ASCII.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Normalizer rewrites raw input text into a form the synthesis backends
// pronounce reliably.
type Normalizer struct {
	numberPattern        *regexp.Regexp
	referencePattern     *regexp.Regexp
	citationPattern      *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns and replacers once, up front.
func NewNormalizer() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
	}

	punctuation := []string{
		emDash, "-",
		enDash, "-",
		figureDash, "-",
		ellipsisChar, ellipsis,
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	}

	return &Normalizer{
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		referencePattern:     regexp.MustCompile(referenceRegexPattern),
		citationPattern:      regexp.MustCompile(citationRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		punctuationReplacer:  strings.NewReplacer(punctuation...),
	}
}

// Normalize runs the full pipeline. Cheaper transformations run first.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	out := n.abbreviationReplacer.Replace(text)
	out = n.normalizeNumbers(out)
	out = n.referencePattern.ReplaceAllString(out, "")
	out = n.citationPattern.ReplaceAllString(out, "")
	out = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(out, " "))
	out = n.punctuationReplacer.Replace(out)
	out = removeExcessivePunctuation(out)

	return ensureSentenceEnding(out)
}

// normalizeNumbers converts every integer in the text to words.
func (n *Normalizer) normalizeNumbers(text string) string {
	return n.numberPattern.ReplaceAllStringFunc(text, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return integerToWords(num)
	})
}

// removeExcessivePunctuation collapses runs of punctuation to one mark.
func removeExcessivePunctuation(text string) string {
	var (
		result       []rune
		lastWasPunct bool
	)

	for _, char := range text {
		isPunct := unicode.IsPunct(char)
		if !isPunct || !lastWasPunct {
			result = append(result, char)
		}

		lastWasPunct = isPunct
	}

	return string(result)
}

// ensureSentenceEnding terminates the text with sentence punctuation so the
// backends do not trail off mid-prosody.
func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)

	switch lastChar {
	case '.', '!', '?':
		return trimmed
	}

	if unicode.IsPunct(lastChar) {
		return trimmed
	}

	return trimmed + "."
}

// integerToWords converts an integer into its English word representation,
// covering the range a synthesis request plausibly contains. Larger values
// are passed through as digits.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	remaining := number

	if thousands := remaining / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
		remaining %= numberBaseThousand
	}

	if remaining > 0 {
		parts = append(parts, underThousand(remaining))
	}

	return strings.Join(parts, " ")
}

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

func underThousand(num int) string {
	if num >= numberBaseHundred {
		result := onesWords[num/numberBaseHundred] + " hundred"
		if rest := num % numberBaseHundred; rest > 0 {
			result += " " + underHundred(rest)
		}

		return result
	}

	return underHundred(num)
}

func underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return onesWords[num]
	case num < numberBaseTwenty:
		return teensWords[num-numberBaseTen]
	default:
		result := tensWords[num/numberBaseTen]
		if num%numberBaseTen > 0 {
			result += " " + onesWords[num%numberBaseTen]
		}

		return result
	}
}
