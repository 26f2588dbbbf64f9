package sinhala

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("පුනරුදය යනු කුමක්ද?")
	assert.Equal(t, []string{"පුනරුදය"}, tokens)
}

func TestTokenize_IgnoresLatinAndPunctuation(t *testing.T) {
	tokens := Tokenize("Lesson 1: පුනරුදය, යුරෝපය. ෴ ඉතාලිය")
	assert.Equal(t, []string{"පුනරුදය", "යුරෝපය", "ඉතාලිය"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize("What is it?"))
	assert.Empty(t, Tokenize("සහ හා"))
}

func TestConcepts_MinimumLength(t *testing.T) {
	concepts := Concepts("ගස ගල් පුනරුදය ඉතාලිය සහ")
	_, hasShort := concepts["ගස"]
	assert.False(t, hasShort)
	assert.Contains(t, concepts, "පුනරුදය")
	assert.Contains(t, concepts, "ඉතාලිය")
	assert.NotContains(t, concepts, "සහ")
}

func TestDifference_Sorted(t *testing.T) {
	a := Concepts("පුනරුදය ඉතාලිය යුරෝපය")
	b := Concepts("ඉතාලිය")
	diff := Difference(a, b)
	require.Len(t, diff, 2)
	assert.True(t, diff[0] < diff[1])
	assert.NotContains(t, diff, "ඉතාලිය")
}
