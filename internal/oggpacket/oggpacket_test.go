package oggpacket_test

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/require"
	"gopkg.in/hraban/opus.v2"

	"github.com/livekit-examples/kitt-agent/internal/oggpacket"
)

// encodeFixture builds a real OGG/Opus bitstream (via the production Opus
// encoder and pion's oggwriter) consisting of n frames of encoded silence,
// each frameSamples long, and returns the raw bytes.
func encodeFixture(t *testing.T, n, frameSamples, sampleRate, channels int) []byte {
	t.Helper()

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	require.NoError(t, err)

	buf := &writerBuf{}
	ow, err := oggwriter.NewWith(buf, uint32(sampleRate), uint16(channels))
	require.NoError(t, err)

	pcm := make([]int16, frameSamples*channels)
	opusBuf := make([]byte, 4000)

	seq := uint16(rand.Intn(1000))
	var ts uint32
	for i := 0; i < n; i++ {
		nBytes, err := enc.Encode(pcm, opusBuf)
		require.NoError(t, err)

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           1,
			},
			Payload: append([]byte(nil), opusBuf[:nBytes]...),
		}
		require.NoError(t, ow.WriteRTP(pkt))

		seq++
		ts += uint32(frameSamples)
	}
	require.NoError(t, ow.Close())

	return buf.Bytes()
}

type writerBuf struct {
	data []byte
}

func (w *writerBuf) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writerBuf) Bytes() []byte { return w.data }

func TestReaderYieldsEncoderPacketSequence(t *testing.T) {
	const (
		sampleRate   = 48000
		channels     = 1
		frameSamples = 960 // 20ms
		frameCount   = 12
	)

	raw := encodeFixture(t, frameCount, frameSamples, sampleRate, channels)

	r := oggpacket.NewReader(bytes.NewReader(raw), true)

	var packets [][]byte
	for {
		_, pagePackets, err := r.ReadPage()
		if err != nil {
			break
		}
		packets = append(packets, pagePackets...)
	}

	require.GreaterOrEqual(t, len(packets), frameCount,
		"expect at least one whole Opus packet per encoded frame (oggwriter may split headers into their own pages)")

	found := 0
	for _, p := range packets {
		if len(p) == 0 || bytes.HasPrefix(p, []byte("OpusHead")) || bytes.HasPrefix(p, []byte("OpusTags")) {
			continue // skip the id/comment pages, not audio packets
		}
		samples, err := oggpacket.PacketDuration(p)
		require.NoError(t, err)
		require.Equal(t, frameSamples, samples)
		found++
	}
	require.Equal(t, frameCount, found)
}

func TestPacketDurationRejectsOversizedPacket(t *testing.T) {
	// config 12 selects the hybrid table's first entry group boundary;
	// config 16 (CELT, 0b10000xxx) with frame-count-code 3 and a
	// requested frame count that pushes total above 5760 samples must fail.
	toc := byte(16 << 3) // CELT config 0 -> 120 samples/frame
	pkt := []byte{toc | 0x03, 0x3F}
	_, err := oggpacket.PacketDuration(pkt)
	require.ErrorIs(t, err, oggpacket.ErrInvalidPacket)
}

func TestPacketDurationSingleFrame(t *testing.T) {
	toc := byte(0 << 3) // SILK NB config 0 -> 480 samples (10ms), code 0 -> 1 frame
	samples, err := oggpacket.PacketDuration([]byte{toc})
	require.NoError(t, err)
	require.Equal(t, 480, samples)
}

func TestPacketDurationEmptyPacket(t *testing.T) {
	_, err := oggpacket.PacketDuration(nil)
	require.ErrorIs(t, err, oggpacket.ErrInvalidPacket)
}

func TestFrameSamplesMatchesRFCTable(t *testing.T) {
	// RFC 6716 §3.1: each 4-wide (or 2-wide, for Hybrid) band repeats the
	// same four (or two) durations starting from the band's first config.
	cases := []struct {
		config int
		want   int
	}{
		{0, 480},   // SILK-NB 10ms
		{1, 960},   // SILK-NB 20ms
		{4, 480},   // SILK-MB 10ms
		{11, 2880}, // SILK-WB 60ms
		{12, 480},  // Hybrid-NB 10ms
		{15, 960},  // Hybrid-WB 20ms
		{16, 120},  // CELT-NB 2.5ms
		{17, 240},  // CELT-NB 5ms
		{18, 480},  // CELT-NB 10ms
		{19, 960},  // CELT-NB 20ms
		{31, 960},  // CELT-FB 20ms
	}
	for _, c := range cases {
		toc := oggpacket.TOC(byte(c.config << 3))
		require.Equal(t, c.want, toc.FrameSamples(), "config %d", c.config)
	}
}

// rawPage builds one raw OGG page with a zeroed checksum field; tests using
// it construct a Reader with checkCRC=false.
func rawPage(headerType byte, index uint32, segSizes []byte, payload []byte) []byte {
	header := make([]byte, 27)
	copy(header[0:4], "OggS")
	header[5] = headerType
	binary.LittleEndian.PutUint32(header[14:18], 1) // serial
	binary.LittleEndian.PutUint32(header[18:22], index)
	header[26] = byte(len(segSizes))

	page := append([]byte{}, header...)
	page = append(page, segSizes...)
	page = append(page, payload...)
	return page
}

func TestReadPageReassemblesPacketSplitAcrossPages(t *testing.T) {
	idPayload := append([]byte("OpusHead"), make([]byte, 11)...)
	idPage := rawPage(0x02, 0, []byte{byte(len(idPayload))}, idPayload)

	first := bytes.Repeat([]byte{0xAB}, 255)
	second := bytes.Repeat([]byte{0xCD}, 45)
	page2 := rawPage(0x00, 1, []byte{255}, first)
	page3 := rawPage(0x00, 2, []byte{45}, second)

	var stream []byte
	stream = append(stream, idPage...)
	stream = append(stream, page2...)
	stream = append(stream, page3...)

	r := oggpacket.NewReader(bytes.NewReader(stream), false)

	_, packets, err := r.ReadPage() // id page
	require.NoError(t, err)
	require.Len(t, packets, 1)

	_, packets, err = r.ReadPage() // ends on an exactly-255-byte segment
	require.NoError(t, err)
	require.Empty(t, packets, "an unterminated trailing segment must not be reported as a whole packet")

	_, packets, err = r.ReadPage() // completes the packet
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, append(append([]byte{}, first...), second...), packets[0])
}

