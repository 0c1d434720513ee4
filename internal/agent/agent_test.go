package agent

import (
	"math/rand"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/require"
	"gopkg.in/hraban/opus.v2"
)

type writerBuf struct{ data []byte }

func (w *writerBuf) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

// encodeFixture mirrors oggpacket's own test fixture: a real OGG/Opus
// bitstream produced by the production encoder, used here to exercise
// packetizeOGG the same way a TTS response would.
func encodeFixture(t *testing.T, n int) []byte {
	t.Helper()
	const (
		sampleRate   = 48000
		channels     = 1
		frameSamples = 960
	)

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	require.NoError(t, err)

	buf := &writerBuf{}
	ow, err := oggwriter.NewWith(buf, sampleRate, channels)
	require.NoError(t, err)

	pcm := make([]int16, frameSamples*channels)
	opusBuf := make([]byte, 4000)

	seq := uint16(rand.Intn(1000))
	var ts uint32
	for i := 0; i < n; i++ {
		nBytes, err := enc.Encode(pcm, opusBuf)
		require.NoError(t, err)
		require.NoError(t, ow.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts, SSRC: 1},
			Payload: append([]byte(nil), opusBuf[:nBytes]...),
		}))
		seq++
		ts += frameSamples
	}
	require.NoError(t, ow.Close())
	return buf.data
}

func TestPacketizeOGGReturnsOnePacketPerFrame(t *testing.T) {
	raw := encodeFixture(t, 5)

	packets, durations, err := packetizeOGG(raw)
	require.NoError(t, err)
	require.Len(t, packets, 5)
	require.Len(t, durations, 5)
	for _, d := range durations {
		require.Equal(t, 20*time.Millisecond, d)
	}
}

func TestPacketizeOGGRejectsNonOggBytes(t *testing.T) {
	_, _, err := packetizeOGG([]byte("not an ogg stream"))
	require.Error(t, err)
}

func TestRosterNamesReflectsCurrentParticipants(t *testing.T) {
	a := &Agent{names: map[string]string{"p1": "Ada", "p2": "Bob"}}
	roster := a.rosterNames()
	require.ElementsMatch(t, []string{"Ada", "Bob"}, roster)
}

func TestClosedChanIsAlreadyClosed(t *testing.T) {
	ch := closedChan()
	select {
	case <-ch:
	default:
		t.Fatal("expected closedChan to be immediately receivable")
	}
}
