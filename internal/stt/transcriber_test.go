package stt_test

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/livekit-examples/kitt-agent/internal/stt"
	"github.com/livekit-examples/kitt-agent/internal/types"
)

func TestNewRejectsNonOpusCodec(t *testing.T) {
	codec := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
	}

	tr, err := stt.New(nil, codec, types.DefaultLanguage())
	require.Nil(t, tr)
	require.ErrorIs(t, err, stt.ErrUnsupportedCodec)
}
