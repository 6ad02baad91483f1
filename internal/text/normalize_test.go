// Package text_test tests the synthesis text normalizer.
package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/voice-service/internal/text"
)

func TestNormalize_Abbreviations(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("Dr. Smith met Mr. Jones.")
	assert.Equal(t, "Doctor Smith met Mister Jones.", got)
}

func TestNormalize_Numbers(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "small", input: "I have 3 cats", want: "I have three cats."},
		{name: "teens", input: "chapter 17", want: "chapter seventeen."},
		{name: "tens", input: "42 pages", want: "forty two pages."},
		{name: "hundreds", input: "358 entries", want: "three hundred fifty eight entries."},
		{name: "thousands", input: "12500 words", want: "twelve thousand five hundred words."},
		{name: "zero", input: "0 errors", want: "zero errors."},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalize_StripsCitations(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("The method works Smith et al. very well")
	assert.Equal(t, "The method works very well.", got)
}

func TestNormalize_StripsSuperscriptReferences(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("An important result¹ was found")
	assert.Equal(t, "An important result was found.", got)
}

func TestNormalize_Whitespace(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("  too   much\n\nspace  ")
	assert.Equal(t, "too much space.", got)
}

func TestNormalize_TypographicPunctuation(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("he paused… then spoke")
	assert.Equal(t, "he paused. then spoke.", got)

	got = normalizer.Normalize("an em—dash and ‘quotes’")
	assert.Equal(t, "an em-dash and 'quotes'", got)
}

func TestNormalize_ExcessivePunctuation(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("what!!! no way???")
	assert.Equal(t, "what! no way?", got)
}

func TestNormalize_SentenceEnding(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Equal(t, "hello there.", normalizer.Normalize("hello there"))
	assert.Equal(t, "already done!", normalizer.Normalize("already done!"))
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Empty(t, normalizer.Normalize(""))
	assert.Empty(t, normalizer.Normalize("   "))
}
