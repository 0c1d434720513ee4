// Package agent implements the per-room orchestrator: it wires a
// Transcriber to every subscribed microphone, decides when to answer via
// the ActivationController, and drives the LLM -> TTS -> OutboundTrack
// pipeline for each answer turn.
//
// One Agent exists per room, keyed by room name, wiring lksdk's
// RoomCallback, ConnectToRoomWithToken, and PublishTrack. Its Transcribers
// map is guarded by the agent mutex, and each answer turn's speech chunks
// are enqueued in LLM emission order via a per-chunk predecessor channel,
// with synthesis itself fanned out and joined via errgroup.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sttapi "cloud.google.com/go/speech/apiv1"
	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/livekit-examples/kitt-agent/internal/activation"
	"github.com/livekit-examples/kitt-agent/internal/llm"
	"github.com/livekit-examples/kitt-agent/internal/memory"
	"github.com/livekit-examples/kitt-agent/internal/oggpacket"
	"github.com/livekit-examples/kitt-agent/internal/outbound"
	"github.com/livekit-examples/kitt-agent/internal/signaling"
	"github.com/livekit-examples/kitt-agent/internal/stt"
	"github.com/livekit-examples/kitt-agent/internal/tts"
	"github.com/livekit-examples/kitt-agent/internal/types"
)

// BotIdentity is the identity/display name KITT joins a room with.
// Participants with this identity are never subscribed to.
const BotIdentity = "KITT"

const selfDestructGuard = 5 * time.Second

// Providers bundles the process-scoped clients every Agent shares:
// constructed once at startup, passed in by reference, never constructed
// per-agent.
type Providers struct {
	STT *sttapi.Client
	TTS *tts.Synthesizer
	LLM *llm.Completer
}

// Agent is one room's bot participant.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc

	room     *lksdk.Room
	out      *outbound.Track
	pub      *signaling.Publisher
	mem      *memory.Memory
	activ    *activation.Controller
	provider Providers
	language types.Language

	mu           sync.Mutex
	transcribers map[string]*stt.Transcriber // keyed by participant identity
	names        map[string]string           // participant identity -> display name

	onDisconnect func(roomName string)
	destroyOnce  sync.Once
}

// Connect joins the room identified by token, publishes the outbound
// track, and wires all room callbacks. onDisconnect fires exactly once,
// from whatever path tears the agent down (room error, empty room, or an
// explicit Close), so the Supervisor can drop its slot.
func Connect(url, token string, providers Providers, language types.Language, onDisconnect func(roomName string)) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	out, err := outbound.New()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: create outbound track: %w", err)
	}

	a := &Agent{
		ctx:          ctx,
		cancel:       cancel,
		out:          out,
		mem:          memory.New(),
		provider:     providers,
		language:     language,
		transcribers: make(map[string]*stt.Transcriber),
		names:        make(map[string]string),
		onDisconnect: onDisconnect,
	}
	a.activ = activation.New(func() {
		if err := a.pub.State(a.ctx, signaling.StateIdle); err != nil {
			logger.Errorw("failed to publish idle state", err)
		}
	})

	callbacks := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished:    a.onTrackPublished,
			OnTrackSubscribed:   a.onTrackSubscribed,
			OnTrackUnsubscribed: a.onTrackUnsubscribed,
		},
		OnParticipantConnected:    a.onParticipantConnected,
		OnParticipantDisconnected: a.onParticipantDisconnected,
		OnDisconnected:            a.onDisconnected,
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callbacks, lksdk.WithAutoSubscribe(false))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: connect to room: %w", err)
	}
	a.room = room
	a.pub = signaling.NewPublisher(room.LocalParticipant)

	if _, err := a.out.Publish(room.LocalParticipant); err != nil {
		a.selfDestruct()
		return nil, fmt.Errorf("agent: publish outbound track: %w", err)
	}
	a.out.Start()

	time.AfterFunc(selfDestructGuard, func() {
		if len(a.room.GetParticipants()) == 0 {
			a.selfDestruct()
		}
	})

	return a, nil
}

// RoomName reports which room this agent is bound to.
func (a *Agent) RoomName() string {
	return a.room.Name()
}

func (a *Agent) onTrackPublished(pub *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	if pub.Kind() != lksdk.TrackKindAudio || participant.Identity() == BotIdentity {
		return
	}
	if err := pub.SetSubscribed(true); err != nil {
		logger.Errorw("failed to subscribe to mic track", err, "participant", participant.Identity())
	}
}

func (a *Agent) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	if pub.Kind() != lksdk.TrackKindAudio || participant.Identity() == BotIdentity {
		return
	}

	tr, err := stt.New(a.provider.STT, track.Codec(), a.language)
	if err != nil {
		// Unsupported codec: log and ignore this one track; the agent
		// stays functional for every other mic.
		logger.Infow("skipping unsupported mic track", "participant", participant.Identity(), "error", err)
		return
	}

	a.mu.Lock()
	a.transcribers[participant.Identity()] = tr
	a.names[participant.Identity()] = participant.Name()
	a.mu.Unlock()

	go a.pumpRTP(track, tr)
	go a.consumeResults(participant.Identity(), tr)
}

func (a *Agent) pumpRTP(track *webrtc.TrackRemote, tr *stt.Transcriber) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if werr := tr.WriteRTP(pkt); werr != nil {
			logger.Errorw("failed to write rtp into transcriber", werr)
			return
		}
	}
}

func (a *Agent) consumeResults(participantID string, tr *stt.Transcriber) {
	for result := range tr.Results() {
		a.onResult(participantID, result)
	}
}

func (a *Agent) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	a.mu.Lock()
	tr, ok := a.transcribers[participant.Identity()]
	delete(a.transcribers, participant.Identity())
	delete(a.names, participant.Identity())
	a.mu.Unlock()

	if ok {
		tr.Close()
	}
}

func (a *Agent) onParticipantConnected(participant *lksdk.RemoteParticipant) {
	if participant.Identity() == BotIdentity {
		return
	}
	a.mem.AppendPresence(participant.Name(), true)
}

func (a *Agent) onParticipantDisconnected(participant *lksdk.RemoteParticipant) {
	if participant.Identity() != BotIdentity {
		a.mem.AppendPresence(participant.Name(), false)
	}
	if len(a.room.GetParticipants()) == 0 {
		a.selfDestruct()
	}
}

func (a *Agent) onDisconnected() {
	a.selfDestruct()
}

// onResult always forwards a recognizer result as a transcript, then asks
// the ActivationController whether it should trigger an answer turn.
func (a *Agent) onResult(participantID string, result types.RecognizeResult) {
	if result.Err != nil {
		if err := a.pub.Error(a.ctx, "speech recognition error"); err != nil {
			logger.Errorw("failed to publish error packet", err)
		}
		return
	}

	a.mu.Lock()
	name := a.names[participantID]
	a.mu.Unlock()

	if err := a.pub.Transcript(a.ctx, participantID, name, result.Text, result.IsFinal); err != nil {
		logger.Errorw("failed to publish transcript", err)
	}

	humanCount := len(a.room.GetParticipants())
	decision := a.activ.HandleResult(participantID, humanCount, result.Text, result.IsFinal)

	if decision.JustActivated {
		if err := a.pub.State(a.ctx, signaling.StateActive); err != nil {
			logger.Errorw("failed to publish active state", err)
		}
	}

	if decision.ShouldAnswer {
		if !a.activ.TryStartTurn() {
			return // another turn is already in progress
		}
		go a.runAnswerTurn(participantID, name, result.Text)
	}
}

// runAnswerTurn drives the answer pipeline triggered by a final activating
// transcript: build a prompt from history, stream an LLM completion
// sentence by sentence, synthesize and enqueue each sentence in order.
// Only one runs at a time, guarded by activ.TryStartTurn.
func (a *Agent) runAnswerTurn(participantID, name, prompt string) {
	history := a.mem.Snapshot()
	promptEvent := a.mem.AppendSpeech(name, prompt, false)
	a.activ.ClearActiveForTurnStart()

	if err := a.pub.State(a.ctx, signaling.StateLoading); err != nil {
		logger.Errorw("failed to publish loading state", err)
	}

	roster := a.rosterNames()
	messages := llm.BuildMessages(roster, a.language, time.Now(), history, promptEvent)
	stream := a.provider.LLM.Stream(a.ctx, messages)
	defer stream.Close()

	var g errgroup.Group
	var playback sync.WaitGroup
	var fullAnswer strings.Builder

	prevEnqueued := closedChan()
	aborted := false

	for {
		sentence, ok, err := stream.Recv()
		if err != nil {
			if a.ctx.Err() == nil {
				logger.Errorw("llm stream failed", err)
				if perr := a.pub.Error(a.ctx, "language model error"); perr != nil {
					logger.Errorw("failed to publish error packet", perr)
				}
			}
			aborted = true
			break
		}
		if !ok {
			break
		}
		if strings.TrimSpace(sentence.Text) == "" {
			continue
		}

		fullAnswer.WriteString(sentence.Text)

		lang := a.language
		if sentence.Language != "" {
			lang = types.LookupLanguage(sentence.Language)
		}

		pred := prevEnqueued
		enqueued := make(chan struct{})
		prevEnqueued = enqueued
		playback.Add(1)

		text := sentence.Text
		g.Go(func() error {
			defer close(enqueued)

			audio, err := a.provider.TTS.Synthesize(a.ctx, text, lang)
			if err != nil {
				playback.Done()
				if a.ctx.Err() == nil {
					logger.Errorw("speech synthesis failed", err)
					if perr := a.pub.Error(a.ctx, "speech synthesis error"); perr != nil {
						logger.Errorw("failed to publish error packet", perr)
					}
				}
				return err
			}
			packets, durations, err := packetizeOGG(audio)
			if err != nil {
				playback.Done()
				if a.ctx.Err() == nil {
					logger.Errorw("failed to packetize synthesized audio", err)
					if perr := a.pub.Error(a.ctx, "speech synthesis error"); perr != nil {
						logger.Errorw("failed to publish error packet", perr)
					}
				}
				return err
			}

			<-pred // preserve LLM emission order despite out-of-order TTS completion

			a.out.Enqueue(&types.OutboundSource{
				Packets:   packets,
				Durations: durations,
				OnComplete: func() {
					playback.Done()
				},
			})
			if perr := a.pub.State(a.ctx, signaling.StateSpeaking); perr != nil {
				logger.Errorw("failed to publish speaking state", perr)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && a.ctx.Err() == nil {
		logger.Errorw("synthesis task failed", err)
		aborted = true
	}
	playback.Wait()

	answer := fullAnswer.String()
	if aborted || answer == "" {
		// No automatic retry of a failed turn; leave the agent ready for
		// the next one.
		a.activ.EndTurn(participantID, false)
		return
	}

	a.mem.AppendSpeech(BotIdentity, answer, true)

	endsWithQuestion := strings.HasSuffix(strings.TrimSpace(answer), "?")
	a.activ.EndTurn(participantID, endsWithQuestion)

	if endsWithQuestion {
		if err := a.pub.State(a.ctx, signaling.StateActive); err != nil {
			logger.Errorw("failed to publish active state", err)
		}
	} else {
		if err := a.pub.State(a.ctx, signaling.StateIdle); err != nil {
			logger.Errorw("failed to publish idle state", err)
		}
	}
}

func (a *Agent) rosterNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.names))
	for _, n := range a.names {
		names = append(names, n)
	}
	return names
}

// selfDestruct tears the agent down exactly once: cancels its scope
// (stopping the LLM stream, all STT sessions, all synthesis tasks, and the
// outbound pump), disconnects from the room, and notifies the Supervisor.
func (a *Agent) selfDestruct() {
	a.destroyOnce.Do(func() {
		a.cancel()

		a.mu.Lock()
		transcribers := make([]*stt.Transcriber, 0, len(a.transcribers))
		for _, tr := range a.transcribers {
			transcribers = append(transcribers, tr)
		}
		a.mu.Unlock()
		for _, tr := range transcribers {
			tr.Close()
		}

		a.out.Close()
		if a.room != nil {
			a.room.Disconnect()
		}
		if a.onDisconnect != nil {
			a.onDisconnect(a.RoomName())
		}
	})
}

// Close is the external entry point for a forced shutdown (e.g. from the
// Supervisor's graceful-shutdown deadline).
func (a *Agent) Close() {
	a.selfDestruct()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// packetizeOGG splits a TTS response's raw OGG-Opus bytes into whole Opus
// packets with their playout durations, skipping the OpusHead/OpusTags
// housekeeping pages.
func packetizeOGG(data []byte) (packets [][]byte, durations []time.Duration, err error) {
	r := oggpacket.NewReader(bytes.NewReader(data), false)
	for {
		_, pagePackets, rerr := r.ReadPage()
		if rerr != nil {
			break
		}
		for _, p := range pagePackets {
			if len(p) == 0 || bytes.HasPrefix(p, []byte("OpusHead")) || bytes.HasPrefix(p, []byte("OpusTags")) {
				continue
			}
			samples, derr := oggpacket.PacketDuration(p)
			dur := 20 * time.Millisecond
			if derr == nil {
				dur = time.Duration(samples) * time.Second / 48000
			}
			packets = append(packets, p)
			durations = append(durations, dur)
		}
	}
	if len(packets) == 0 {
		return nil, nil, fmt.Errorf("agent: no opus packets decoded from tts response")
	}
	return packets, durations, nil
}
