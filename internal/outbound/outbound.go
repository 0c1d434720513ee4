// Package outbound publishes the agent's spoken reply as a single mono
// Opus track, serving queued TTS responses strictly in FIFO order and
// falling back to silence whenever nothing is queued.
//
// It publishes via lksdk.NewLocalSampleTrack/PublishTrack and
// track.WriteSample(media.Sample{...}, nil); a 20ms ticker drives both
// queued playback and the fallback silence frames at the same cadence.
package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

const (
	sampleRate   = 48000
	channels     = 1
	frameTick    = 20 * time.Millisecond
	mimeOpus     = "audio/opus"
)

// silenceFrame is the canonical 80-byte SILK silence payload.
var silenceFrame = []byte{
	0xf8, 0xff, 0xfe, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Track publishes one Opus RTP track, serving OutboundSources strictly in
// FIFO order and emitting exactly one packet per 20ms wall-clock tick.
type Track struct {
	local *lksdk.LocalSampleTrack

	mu      sync.Mutex
	queue   []*types.OutboundSource
	current *types.OutboundSource
	cursor  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the local Opus sample track without publishing it.
func New() (*Track, error) {
	local, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  mimeOpus,
		ClockRate: sampleRate,
		Channels:  channels,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Track{
		local:  local,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Publish publishes the track onto the given local participant.
func (t *Track) Publish(lp *lksdk.LocalParticipant) (*lksdk.LocalTrackPublication, error) {
	return lp.PublishTrack(t.local, &lksdk.TrackPublicationOptions{
		Name:   "kitt-voice",
		Source: livekit.TrackSource_MICROPHONE,
	})
}

// Start begins the 20ms sample pump. Call once after Publish.
func (t *Track) Start() {
	go t.run()
}

func (t *Track) run() {
	defer close(t.done)
	ticker := time.NewTicker(frameTick)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			data, dur := t.nextFrame()
			if err := t.local.WriteSample(media.Sample{Data: data, Duration: dur}, nil); err != nil {
				logger.Errorw("failed to write outbound sample", err)
			}
		}
	}
}

// nextFrame returns the next packet to emit and advances internal state.
// Invariant enforced here: one packet per call, silence iff the queue and
// current source are both empty. A source with zero packets is skipped
// entirely (its OnComplete still fires) rather than stalling the pump.
func (t *Track) nextFrame() ([]byte, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.current == nil {
			if len(t.queue) == 0 {
				return silenceFrame, frameTick
			}
			t.current = t.queue[0]
			t.queue = t.queue[1:]
			t.cursor = 0
		}

		src := t.current
		if t.cursor >= len(src.Packets) {
			t.advanceLocked()
			continue
		}

		data := src.Packets[t.cursor]
		dur := frameTick
		if t.cursor < len(src.Durations) && src.Durations[t.cursor] > 0 {
			dur = src.Durations[t.cursor]
		}
		t.cursor++
		if t.cursor >= len(src.Packets) {
			t.advanceLocked()
		}
		return data, dur
	}
}

// advanceLocked fires the completed source's callback and clears current.
// mu must be held by the caller.
func (t *Track) advanceLocked() {
	done := t.current
	t.current = nil
	t.cursor = 0
	if done != nil && done.OnComplete != nil {
		cb := done.OnComplete
		go cb()
	}
}

// Enqueue appends a source to the FIFO playback queue.
func (t *Track) Enqueue(src *types.OutboundSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, src)
}

// Close stops the pump and drains the queue without firing further
// OnComplete callbacks.
func (t *Track) Close() {
	t.cancel()
	<-t.done
	t.mu.Lock()
	t.queue = nil
	t.current = nil
	t.mu.Unlock()
	t.local.Close()
}
