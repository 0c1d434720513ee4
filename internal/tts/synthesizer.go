// Package tts wraps Google Cloud Text-to-Speech behind the single
// stateless operation the agent needs: text + language in, OGG-Opus bytes
// out, following the documented texttospeechpb request/response contract
// and wired as a plain *texttospeech.Client the same way internal/stt
// wires its own Google Speech client.
package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

const sampleRateHertz = 48000

// Synthesizer is a thin, stateless wrapper. Concurrent calls are safe.
type Synthesizer struct {
	client *texttospeech.Client
}

// New wraps an already-initialized Text-to-Speech client.
func New(client *texttospeech.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize returns the OGG-Opus encoded bytes for text spoken in the
// given language's configured Wavenet voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, language types.Language) ([]byte, error) {
	resp, err := s.client.SynthesizeSpeech(ctx, buildRequest(text, language))
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize speech: %w", err)
	}
	return resp.AudioContent, nil
}

func buildRequest(text string, language types.Language) *ttspb.SynthesizeSpeechRequest {
	return &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: language.Code,
			Name:         language.TTSVoice,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   ttspb.AudioEncoding_OGG_OPUS,
			SampleRateHertz: sampleRateHertz,
		},
	}
}
