package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndsInTerminator(t *testing.T) {
	require.True(t, endsInTerminator("Hello there."))
	require.True(t, endsInTerminator("Ca va?  "))
	require.True(t, endsInTerminator("Bonjour!"))
	require.False(t, endsInTerminator("Hello there"))
	require.False(t, endsInTerminator(""))
	require.False(t, endsInTerminator("   "))
}

func TestStripLanguagePrefixAngleBracket(t *testing.T) {
	text, lang := stripLanguagePrefix("<fr-FR>Bonjour. ")
	require.Equal(t, "Bonjour. ", text)
	require.Equal(t, "fr-FR", lang)
}

func TestStripLanguagePrefixBareCode(t *testing.T) {
	text, lang := stripLanguagePrefix("fr-FR Bonjour.")
	require.Equal(t, "Bonjour.", text)
	require.Equal(t, "fr-FR", lang)
}

func TestStripLanguagePrefixAbsent(t *testing.T) {
	text, lang := stripLanguagePrefix("Ca va?")
	require.Equal(t, "Ca va?", text)
	require.Empty(t, lang)
}

func TestStripLanguagePrefixDoesNotMisfireOnOrdinaryWord(t *testing.T) {
	// "OK" isn't a language code: looksLikeLanguageCode requires the
	// hyphenated "xx-XX" shape, so a bare leading word is left alone.
	text, lang := stripLanguagePrefix("OK that works.")
	require.Equal(t, "OK that works.", text)
	require.Empty(t, lang)
}
