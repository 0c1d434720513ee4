// Package stt owns one streaming speech-recognition session per subscribed
// microphone, opening a new session whenever the provider ends the current
// one at its maximum-stream deadline (OutOfRange). Sessions are not closed
// ahead of that deadline.
//
// Its shape — io.Pipe between an OGG writer fed by a samplebuilder and the
// Google Speech streaming client, the OutOfRange-rotates/Canceled-stops
// branch, and the wake-phrase adaptation set — mirrors how a long-lived
// streaming recognition session against a rotating-deadline provider is
// conventionally structured.
package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	sttapi "cloud.google.com/go/speech/apiv1"
	sttpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/server-sdk-go/v2/pkg/samplebuilder"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

// ErrUnsupportedCodec is returned by New when the remote track isn't Opus.
var ErrUnsupportedCodec = errors.New("stt: only opus is supported")

// Transcriber owns the streaming recognition session for one subscribed
// microphone track.
type Transcriber struct {
	ctx    context.Context
	cancel context.CancelFunc

	client   *sttapi.Client
	language types.Language

	rtpCodec webrtc.RTPCodecParameters
	sb       *samplebuilder.SampleBuilder

	mu            sync.Mutex
	oggWriter     *io.PipeWriter
	oggReader     *io.PipeReader
	oggSerializer *oggwriter.OggWriter

	// sawAudioSinceRotate gates session rotation: we only open a new
	// session once bytes have actually flowed through the current one,
	// so a muted mic doesn't burn a fresh session on every idle tick.
	sawAudioSinceRotate bool

	results chan types.RecognizeResult
	closeCh chan struct{}
}

// New validates the codec and starts the session-management goroutine.
func New(client *sttapi.Client, rtpCodec webrtc.RTPCodecParameters, language types.Language) (*Transcriber, error) {
	if !strings.EqualFold(rtpCodec.MimeType, webrtc.MimeTypeOpus) {
		return nil, ErrUnsupportedCodec
	}

	oggReader, oggWriter := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	t := &Transcriber{
		ctx:       ctx,
		cancel:    cancel,
		client:    client,
		language:  language,
		rtpCodec:  rtpCodec,
		sb:        samplebuilder.New(200, &codecs.OpusPacket{}, rtpCodec.ClockRate),
		oggReader: oggReader,
		oggWriter: oggWriter,
		results:   make(chan types.RecognizeResult),
		closeCh:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// WriteRTP reassembles packets into samples and serializes them into the
// current session's OGG bitstream.
func (t *Transcriber) WriteRTP(pkt *rtp.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.oggSerializer == nil {
		ser, err := oggwriter.NewWith(t.oggWriter, t.rtpCodec.ClockRate, t.rtpCodec.Channels)
		if err != nil {
			logger.Errorw("failed to create ogg serializer", err)
			return err
		}
		t.oggSerializer = ser
	}

	t.sb.Push(pkt)
	for _, p := range t.sb.PopPackets() {
		if err := t.oggSerializer.WriteRTP(p); err != nil {
			return err
		}
		t.sawAudioSinceRotate = true
	}
	return nil
}

// Results exposes the stream of interim/final recognitions.
func (t *Transcriber) Results() <-chan types.RecognizeResult {
	return t.results
}

// Close cancels the session and releases resources. Safe to call once.
func (t *Transcriber) Close() {
	t.cancel()
	<-t.closeCh
	t.oggWriter.Close()
	close(t.results)
}

func (t *Transcriber) run() {
	defer close(t.closeCh)

	for {
		// Endless-streaming policy: when the provider ends a session at its
		// ~5 minute cap (OutOfRange), loop and open the next one; no session
		// is closed ahead of the cap. We only open a session once audio has
		// actually arrived on this rotation, so a muted mic never triggers a
		// fresh session.
		if !t.waitForAudio() {
			return // context cancelled while idle
		}

		logger.Debugw("opening new speech stream", "lang", t.language.Code)
		stream, err := t.newStream()
		if err != nil {
			t.emitError(err)
			return
		}

		endStreamCh := make(chan struct{})
		nextCh := make(chan struct{})

		go t.forward(stream, endStreamCh, nextCh)

		rotate, clean := t.recv(stream)
		close(endStreamCh)
		<-nextCh

		t.mu.Lock()
		t.oggSerializer = nil
		t.sawAudioSinceRotate = false
		t.mu.Unlock()

		if clean {
			return
		}
		if !rotate {
			return
		}
	}
}

// waitForAudio blocks (without opening a session) until at least one RTP
// packet has been pushed since the last rotation, or the context is
// cancelled. Returns false on cancellation.
func (t *Transcriber) waitForAudio() bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		ready := t.sawAudioSinceRotate || t.oggSerializer != nil
		t.mu.Unlock()
		if ready {
			return true
		}
		select {
		case <-t.ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (t *Transcriber) forward(stream sttpb.Speech_StreamingRecognizeClient, endStreamCh, nextCh chan struct{}) {
	defer close(nextCh)
	buf := make([]byte, 1024)
	for {
		select {
		case <-endStreamCh:
			return
		default:
		}

		n, err := t.oggReader.Read(buf)
		if err != nil {
			if err != io.EOF {
				logger.Errorw("failed to read from ogg pipe", err)
			}
			return
		}
		if n <= 0 {
			continue
		}

		if err := stream.Send(&sttpb.StreamingRecognizeRequest{
			StreamingRequest: &sttpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: buf[:n],
			},
		}); err != nil {
			if err != io.EOF {
				logger.Errorw("failed to send audio content", err)
				t.emitError(err)
			}
			return
		}
	}
}

// recv drains recognition responses until the stream ends. rotate is true
// when the provider's deadline was hit (OutOfRange) and a new session
// should open; clean is true on a cancellation-driven shutdown.
func (t *Transcriber) recv(stream sttpb.Speech_StreamingRecognizeClient) (rotate, clean bool) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if st, ok := status.FromError(err); ok {
				switch st.Code() {
				case codes.OutOfRange:
					return true, false
				case codes.Canceled:
					return false, true
				}
			}
			logger.Errorw("speech stream receive failed", err)
			t.emitError(err)
			return false, false
		}

		if resp.Error != nil {
			continue
		}

		var sb strings.Builder
		final := false
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			text := result.Alternatives[0].Transcript
			sb.WriteString(text)
			if result.IsFinal {
				sb.Reset()
				sb.WriteString(text)
				final = true
				break
			}
		}

		select {
		case t.results <- types.RecognizeResult{Text: sb.String(), IsFinal: final}:
		case <-t.ctx.Done():
			return false, true
		}
	}
}

func (t *Transcriber) emitError(err error) {
	select {
	case t.results <- types.RecognizeResult{Err: err}:
	case <-t.ctx.Done():
	}
}

// newStream opens a streaming session whose adaptation set boosts the small
// list of greeting+name combinations the activation controller matches on,
// so the recognizer is less likely to mis-hear the bot's own name.
func (t *Transcriber) newStream() (sttpb.Speech_StreamingRecognizeClient, error) {
	stream, err := t.client.StreamingRecognize(t.ctx)
	if err != nil {
		return nil, err
	}

	config := &sttpb.RecognitionConfig{
		Model: "command_and_search",
		Adaptation: &sttpb.SpeechAdaptation{
			PhraseSets: []*sttpb.PhraseSet{
				{
					Phrases: []*sttpb.PhraseSet_Phrase{
						{Value: "${hello} ${name}"},
						{Value: "${name}"},
					},
					Boost: 19,
				},
			},
			CustomClasses: []*sttpb.CustomClass{
				{
					CustomClassId: "hello",
					Items: []*sttpb.CustomClass_ClassItem{
						{Value: "Hi"}, {Value: "Hello"}, {Value: "Hey"},
						{Value: "Hallo"}, {Value: "Salut"}, {Value: "Bonjour"},
						{Value: "Hola"},
					},
				},
				{
					CustomClassId: "name",
					Items: []*sttpb.CustomClass_ClassItem{
						{Value: "Kit"}, {Value: "KITT"}, {Value: "GPT"},
						{Value: "Live Kit"}, {Value: "LiveKit"}, {Value: "Live-Kit"},
					},
				},
			},
		},
		UseEnhanced:       true,
		Encoding:          sttpb.RecognitionConfig_OGG_OPUS,
		SampleRateHertz:   int32(t.rtpCodec.ClockRate),
		AudioChannelCount: int32(t.rtpCodec.Channels),
		LanguageCode:      t.language.STTCode,
	}

	if err := stream.Send(&sttpb.StreamingRecognizeRequest{
		StreamingRequest: &sttpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &sttpb.StreamingRecognitionConfig{
				InterimResults: true,
				Config:         config,
			},
		},
	}); err != nil {
		return nil, err
	}

	return stream, nil
}
