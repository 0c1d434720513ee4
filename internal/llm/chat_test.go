package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

func TestBuildMessagesOrdersHistoryThenPrompt(t *testing.T) {
	lang := types.LookupLanguage("en-US")
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	history := []types.MeetingEvent{
		{Kind: types.EventPresence, Participant: "Ada", Joined: true},
		{Kind: types.EventSpeech, Participant: "Ada", Text: "Hi there"},
		{Kind: types.EventSpeech, IsBot: true, Text: "Hello!"},
	}
	prompt := types.MeetingEvent{Kind: types.EventSpeech, Participant: "Ada", Text: "What time is it?"}

	msgs := BuildMessages([]string{"Ada"}, lang, now, history, prompt)

	// system preamble + 3 history entries + 1 prompt
	require.Len(t, msgs, 5)
}
