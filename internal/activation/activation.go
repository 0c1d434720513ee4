// Package activation decides, for each incoming recognizer result,
// whether the agent should run an answer turn. It owns the active-speaker/
// epoch/idle-watchdog state machine gating when the agent speaks.
//
// The idle watchdog is a time.AfterFunc timer tagged with the epoch at
// arming time; a timer that fires after the epoch has moved on does nothing.
package activation

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// activationWindowWords bounds the wake-phrase scan to the first two
	// lowercased words of a transcript.
	activationWindowWords = 2
	// DefaultIdleTimeout is the watchdog window before an active speaker
	// is cleared for silence.
	DefaultIdleTimeout = 4 * time.Second
)

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hallo": true,
	"salut": true, "bonjour": true, "hola": true, "eh": true, "ey": true,
}

var nameWords = map[string]bool{
	"kit": true, "gpt": true, "kitt": true, "livekit": true,
	"live-kit": true, "kid": true,
}

// WakeIntent is what MatchWake returns on a hit.
type WakeIntent struct {
	WordsConsumed int // how many leading words made up the phrase
}

// MatchWake is a deliberately trivial wake-phrase matcher: a fixed
// greeting-word set followed immediately by a fixed name-word set within
// the first two words. Exposed as a package var so it can be swapped for
// a smarter implementation later.
var MatchWake = func(text string) (WakeIntent, bool) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < activationWindowWords {
		return WakeIntent{}, false
	}
	window := words[:activationWindowWords]
	if greetingWords[trimPunct(window[0])] && nameWords[trimPunct(window[1])] {
		return WakeIntent{WordsConsumed: activationWindowWords}, true
	}
	return WakeIntent{}, false
}

func trimPunct(w string) string {
	return strings.Trim(w, ".,!?;:")
}

// Decision is the outcome of feeding one RecognizeResult to the
// controller.
type Decision struct {
	ShouldAnswer  bool
	JustActivated bool // emit state_Active
	WentIdle      bool // not set by HandleResult; idleness is reported via onIdle
}

// Controller is the per-agent activation state machine: who is the active
// speaker, whether an answer turn is running, and the idle watchdog that
// clears a stale active speaker. Safe for concurrent use: the agent calls
// HandleResult from each transcriber's result loop and EndTurn from the
// answer-turn goroutine, while isBusy is an atomic flag set via TryStartTurn.
type Controller struct {
	mu             sync.Mutex
	activeID       string
	hasActive      bool
	epoch          uint64
	lastActivityAt time.Time
	watchdogTimer  *time.Timer

	isBusy int32 // atomic bool

	onIdle      func()
	idleTimeout time.Duration
}

// New returns an idle controller using a 4s watchdog window.
// onIdle is invoked (from a timer goroutine) when the watchdog clears an
// active speaker due to silence.
func New(onIdle func()) *Controller {
	return NewWithIdleTimeout(onIdle, DefaultIdleTimeout)
}

// NewWithIdleTimeout is New with an overridable watchdog window, useful
// for tests that can't afford to wait out the real 4s timer.
func NewWithIdleTimeout(onIdle func(), idleTimeout time.Duration) *Controller {
	if onIdle == nil {
		onIdle = func() {}
	}
	return &Controller{onIdle: onIdle, idleTimeout: idleTimeout}
}

// TryStartTurn sets isBusy if no turn is already running. Returns false if
// a turn is already in progress, rejecting a concurrent trigger.
func (c *Controller) TryStartTurn() bool {
	return atomic.CompareAndSwapInt32(&c.isBusy, 0, 1)
}

// EndTurn clears isBusy and, when answerEndsWithQuestion is true,
// re-activates prompterID so the conversation can continue without a
// repeated wake phrase.
func (c *Controller) EndTurn(prompterID string, answerEndsWithQuestion bool) {
	atomic.StoreInt32(&c.isBusy, 0)

	if !answerEndsWithQuestion {
		return
	}
	c.mu.Lock()
	c.setActiveLocked(prompterID)
	c.mu.Unlock()
}

// IsBusy reports whether an answer turn is currently in progress.
func (c *Controller) IsBusy() bool {
	return atomic.LoadInt32(&c.isBusy) == 1
}

// ClearActiveForTurnStart clears the active speaker at the start of an
// answer turn, independent of the epoch/watchdog
// machinery — the turn is proceeding regardless of whether the watchdog
// would otherwise fire.
func (c *Controller) ClearActiveForTurnStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearActiveLocked()
}

// HandleResult applies the activation policy for one recognizer result
// from participantID in a room with the given human participant count.
func (c *Controller) HandleResult(participantID string, humanCount int, text string, isFinal bool) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasActive && c.activeID == participantID {
		c.lastActivityAt = time.Now()
	}

	solo := humanCount <= 1
	if solo {
		if !c.hasActive {
			c.setActiveLocked(participantID)
		}
		return Decision{ShouldAnswer: isFinal}
	}

	var justActivated bool
	if intent, ok := MatchWake(text); ok {
		c.setActiveLocked(participantID)
		c.startWatchdogLocked()
		justActivated = true
		_ = intent
	}

	if !isFinal {
		return Decision{JustActivated: justActivated}
	}

	if !c.hasActive || c.activeID != participantID {
		return Decision{JustActivated: justActivated}
	}

	words := strings.Fields(text)
	pureActivation := justActivated && len(words) <= activationWindowWords+1
	if pureActivation {
		// Consume the activation; keep active set so the *next* final
		// from this speaker answers.
		c.startWatchdogLocked()
		return Decision{JustActivated: true}
	}

	return Decision{ShouldAnswer: true}
}

// setActiveLocked assigns a new active speaker, bumping the epoch so any
// watchdog scheduled for a previous activation becomes a no-op.
func (c *Controller) setActiveLocked(participantID string) {
	c.activeID = participantID
	c.hasActive = true
	c.epoch++
	c.lastActivityAt = time.Now()
}

func (c *Controller) clearActiveLocked() {
	c.hasActive = false
	c.activeID = ""
	c.epoch++
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
		c.watchdogTimer = nil
	}
}

// startWatchdogLocked (re)arms the idle timer for the current epoch. If
// the epoch has moved on by the time it fires, it is a no-op.
func (c *Controller) startWatchdogLocked() {
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
	}
	epoch := c.epoch
	c.watchdogTimer = time.AfterFunc(c.idleTimeout, func() {
		c.fireWatchdog(epoch)
	})
}

func (c *Controller) fireWatchdog(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || !c.hasActive {
		c.mu.Unlock()
		return
	}
	// Activity from the active speaker since arming pushes the deadline out.
	if remaining := c.idleTimeout - time.Since(c.lastActivityAt); remaining > 0 {
		c.watchdogTimer = time.AfterFunc(remaining, func() {
			c.fireWatchdog(epoch)
		})
		c.mu.Unlock()
		return
	}
	c.clearActiveLocked()
	c.mu.Unlock()
	c.onIdle()
}

// ActiveSpeaker reports the current active participant, if any.
func (c *Controller) ActiveSpeaker() (id string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID, c.hasActive
}
