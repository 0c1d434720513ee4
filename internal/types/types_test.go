package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

func TestDefaultLanguageIsEnglish(t *testing.T) {
	require.Equal(t, "en-US", types.DefaultLanguage().Code)
}

func TestLookupLanguageFindsMandarinSTTOverride(t *testing.T) {
	lang := types.LookupLanguage("cmn-CN")
	require.Equal(t, "zh", lang.STTCode)
}

func TestLookupLanguageFallsBackToDefaultForUnknownCode(t *testing.T) {
	lang := types.LookupLanguage("xx-XX")
	require.Equal(t, types.DefaultLanguage(), lang)
}

func TestLookupLanguageFallsBackToDefaultForEmptyCode(t *testing.T) {
	lang := types.LookupLanguage("")
	require.Equal(t, types.DefaultLanguage(), lang)
}
