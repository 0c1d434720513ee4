// Package llm assembles the prompt context for the chat-completion
// provider and splits its streamed deltas into sentence-terminated chunks
// ready for per-sentence synthesis, via the OpenAI streaming chat client.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

const systemPreambleTemplate = `You are KITT, a concise, helpful AI participant in a live voice meeting.
Keep answers short and conversational; this is spoken aloud, not read.
If your answer is a question, end it with a question mark.
Current participants: %s
Current language: %s
Current date: %s`

// Completer builds prompts and streams sentence-terminated chunks back
// from the chat-completion provider.
type Completer struct {
	client *openai.Client
	model  string
}

// New wraps an initialized OpenAI client.
func New(client *openai.Client, model string) *Completer {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &Completer{client: client, model: model}
}

// NewClient constructs a process-scoped client from an API key, shared by
// every Agent rather than built per-agent.
func NewClient(apiKey string) *openai.Client {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &client
}

// BuildMessages assembles the system preamble, conversation history, and
// the current prompt into the chat message list.
func BuildMessages(roster []string, language types.Language, now time.Time, history []types.MeetingEvent, prompt types.MeetingEvent) []openai.ChatCompletionMessageParamUnion {
	preamble := fmt.Sprintf(systemPreambleTemplate, strings.Join(roster, ", "), language.Label, now.Format("2006-01-02"))

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(preamble),
	}
	for _, ev := range history {
		msgs = append(msgs, eventToMessage(ev))
	}
	msgs = append(msgs, eventToMessage(prompt))
	return msgs
}

func eventToMessage(ev types.MeetingEvent) openai.ChatCompletionMessageParamUnion {
	switch ev.Kind {
	case types.EventPresence:
		verb := "left"
		if ev.Joined {
			verb = "joined"
		}
		return openai.SystemMessage(fmt.Sprintf("%s %s the meeting", ev.Participant, verb))
	default: // EventSpeech
		if ev.IsBot {
			return openai.AssistantMessage(ev.Text)
		}
		return openai.UserMessage(fmt.Sprintf("%s: %s", ev.Participant, ev.Text))
	}
}

// Stream opens the streaming chat-completion request and returns a
// SentenceStream over its deltas.
func (c *Completer) Stream(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) *SentenceStream {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	return newSentenceStream(stream)
}
