// Package supervisor owns the room->Agent map and the HTTP surface that
// creates agents: the webhook entry point and the direct-join entry point.
//
// APIResponse and the sendJSONResponse/sendErrorResponse helpers give every
// handler the same small JSON envelope; agentSlot and its mutex-guarded map
// track one Agent (or a pending connect) per room.
package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	sttapi "cloud.google.com/go/speech/apiv1"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/webhook"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/livekit-examples/kitt-agent/internal/agent"
	"github.com/livekit-examples/kitt-agent/internal/llm"
	"github.com/livekit-examples/kitt-agent/internal/tts"
	"github.com/livekit-examples/kitt-agent/internal/types"
)

const shutdownDeadline = 5 * time.Second

// APIResponse is the standard JSON envelope for every handler response.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// agentSlot is either "someone is connecting" (agent nil) or ready.
type agentSlot struct {
	agent *agent.Agent
}

// Supervisor is the process-wide room->Agent registry plus its HTTP
// entry points.
type Supervisor struct {
	liveKitURL       string
	apiKey, apiSecret string
	roomClient       *lksdk.RoomServiceClient

	providers agent.Providers
	language  types.Language

	sttClient *sttapi.Client
	ttsClient *texttospeech.Client

	mu    sync.Mutex
	slots map[string]*agentSlot
}

// New wires a Supervisor from already-initialized provider clients.
func New(liveKitURL, apiKey, apiSecret string, sttClient *sttapi.Client, ttsClient *texttospeech.Client, llmClient *llm.Completer, language types.Language) *Supervisor {
	return &Supervisor{
		liveKitURL: liveKitURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		roomClient: lksdk.NewRoomServiceClient(liveKitURL, apiKey, apiSecret),
		providers: agent.Providers{
			STT: sttClient,
			TTS: tts.New(ttsClient),
			LLM: llmClient,
		},
		language:  language,
		sttClient: sttClient,
		ttsClient: ttsClient,
		slots:     make(map[string]*agentSlot),
	}
}

// Handler returns the net/http handler exposing the health, webhook, and
// direct-join routes.
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.healthHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/join/", s.joinHandler)
	return mux
}

func (s *Supervisor) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// webhookHandler recognizes participant_joined for non-bot identities and
// ensures a slot exists for that room. Parse failures are logged and
// still answered with 200, per webhook delivery semantics.
func (s *Supervisor) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	event, err := webhook.ReceiveWebhookEvent(r, auth.NewSimpleKeyProvider(s.apiKey, s.apiSecret))
	if err != nil {
		logger.Errorw("failed to parse webhook event", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.GetEvent() == "participant_joined" {
		participant := event.GetParticipant()
		room := event.GetRoom()
		if participant != nil && room != nil && participant.Identity != agent.BotIdentity {
			s.ensureAgent(room.Name)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// joinHandler implements POST /join/{roomName}.
func (s *Supervisor) joinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomName := strings.TrimPrefix(r.URL.Path, "/join/")
	if roomName == "" {
		s.sendErrorResponse(w, "room name is required", http.StatusBadRequest)
		return
	}

	rooms, err := s.roomClient.ListRooms(r.Context(), &livekit.ListRoomsRequest{Names: []string{roomName}})
	if err != nil {
		s.sendErrorResponse(w, "failed to look up room", http.StatusInternalServerError)
		return
	}
	if len(rooms.Rooms) == 0 {
		s.sendErrorResponse(w, "room not found", http.StatusNotFound)
		return
	}

	s.ensureAgent(roomName)
	s.sendJSONResponse(w, APIResponse{Success: true, Message: "Success"}, http.StatusOK)
}

// ensureAgent creates a connecting slot for roomName if absent, then
// connects an Agent asynchronously. The "connecting" sentinel (a slot
// present in the map with agent == nil) prevents a second caller from
// racing a duplicate connect, so at most one Agent ever exists per room.
func (s *Supervisor) ensureAgent(roomName string) {
	if s.reserveSlot(roomName) {
		go s.connect(roomName)
	}
}

// reserveSlot atomically inserts the "connecting" sentinel for roomName if
// absent, reporting whether this call won the race.
func (s *Supervisor) reserveSlot(roomName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[roomName]; exists {
		return false
	}
	s.slots[roomName] = &agentSlot{}
	return true
}

func (s *Supervisor) connect(roomName string) {
	token, err := s.mintToken(roomName)
	if err != nil {
		logger.Errorw("failed to mint agent token", err, "room", roomName)
		s.dropSlot(roomName)
		return
	}

	a, err := agent.Connect(s.liveKitURL, token, s.providers, s.language, s.onAgentDisconnect)
	if err != nil {
		logger.Errorw("failed to connect agent", err, "room", roomName)
		s.dropSlot(roomName)
		return
	}

	s.mu.Lock()
	if slot, ok := s.slots[roomName]; ok {
		slot.agent = a
	}
	s.mu.Unlock()
}

func (s *Supervisor) mintToken(roomName string) (string, error) {
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(agent.BotIdentity).
		SetName(agent.BotIdentity)
	return at.ToJWT()
}

func (s *Supervisor) dropSlot(roomName string) {
	s.mu.Lock()
	delete(s.slots, roomName)
	s.mu.Unlock()
}

// onAgentDisconnect is the Agent's teardown callback; it removes the
// room's slot so a future join can reconnect.
func (s *Supervisor) onAgentDisconnect(roomName string) {
	s.dropSlot(roomName)
}

// Shutdown cancels every live agent and closes the shared provider
// clients, within a 5s deadline.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	agents := make([]*agent.Agent, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.agent != nil {
			agents = append(agents, slot.agent)
		}
	}
	s.slots = make(map[string]*agentSlot)
	s.mu.Unlock()

	deadline, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()

	g, _ := errgroup.WithContext(deadline)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			a.Close()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-deadline.Done():
		logger.Warnw("shutdown deadline reached before all agents closed", deadline.Err())
	}

	if s.sttClient != nil {
		if err := s.sttClient.Close(); err != nil {
			logger.Errorw("failed to close speech client", err)
		}
	}
	if s.ttsClient != nil {
		if err := s.ttsClient.Close(); err != nil {
			logger.Errorw("failed to close text-to-speech client", err)
		}
	}
	return nil
}

func (s *Supervisor) sendJSONResponse(w http.ResponseWriter, response APIResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (s *Supervisor) sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.sendJSONResponse(w, APIResponse{Success: false, Error: message}, statusCode)
}
