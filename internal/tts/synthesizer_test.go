package tts

import (
	"testing"

	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/stretchr/testify/require"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

func TestBuildRequestUsesLanguageVoiceAndOggOpus(t *testing.T) {
	lang := types.LookupLanguage("fr-FR")
	req := buildRequest("Bonjour", lang)

	require.Equal(t, "Bonjour", req.Input.GetText())
	require.Equal(t, "fr-FR", req.Voice.LanguageCode)
	require.Equal(t, lang.TTSVoice, req.Voice.Name)
	require.Equal(t, ttspb.AudioEncoding_OGG_OPUS, req.AudioConfig.AudioEncoding)
	require.Equal(t, int32(sampleRateHertz), req.AudioConfig.SampleRateHertz)
}
