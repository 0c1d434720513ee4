package llm

import (
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

// Sentence is one chunk released by SentenceStream: text ready for
// synthesis plus the language it should be spoken in, if the chunk carried
// an explicit "<lang-code>" or bare "lang-code" prefix.
type Sentence struct {
	Text     string
	Language string // empty if no prefix was present
}

// sentenceTerminators is intentionally small and language-naive: the
// splitter is meant as a swappable strategy, not a robust one.
var sentenceTerminators = []string{".", "!", "?", "。", "！", "？"}

// SentenceSplitter reports whether the buffered text forms a complete chunk
// to release. A package var so the boundary rule can be replaced.
var SentenceSplitter func(buffered string) bool = endsInTerminator

// SentenceStream accumulates raw LLM deltas and releases a Sentence
// whenever the buffer's trimmed tail ends in a sentence terminator.
type SentenceStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	buf    strings.Builder
}

func newSentenceStream(stream *ssestream.Stream[openai.ChatCompletionChunk]) *SentenceStream {
	return &SentenceStream{stream: stream}
}

// Recv returns the next sentence-terminated chunk, or ok=false once the
// stream has ended (after flushing any non-empty partial remainder).
func (s *SentenceStream) Recv() (Sentence, bool, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		s.buf.WriteString(delta)

		if SentenceSplitter(s.buf.String()) {
			return s.flush()
		}
	}

	if err := s.stream.Err(); err != nil {
		return Sentence{}, false, err
	}

	if s.buf.Len() > 0 {
		sentence, _, _ := s.flush()
		return sentence, true, nil
	}
	return Sentence{}, false, nil
}

// Close releases the underlying HTTP stream.
func (s *SentenceStream) Close() error {
	return s.stream.Close()
}

func (s *SentenceStream) flush() (Sentence, bool, error) {
	raw := s.buf.String()
	s.buf.Reset()
	text, lang := stripLanguagePrefix(raw)
	return Sentence{Text: text, Language: lang}, true, nil
}

func endsInTerminator(s string) bool {
	trimmed := strings.TrimRight(s, " \t\n\r")
	if trimmed == "" {
		return false
	}
	for _, term := range sentenceTerminators {
		if strings.HasSuffix(trimmed, term) {
			return true
		}
	}
	return false
}

// stripLanguagePrefix recognizes an optional "<lang-code>" or bare
// "lang-code " token at the start of a chunk (e.g. "<fr-FR>Bonjour." or
// "fr-FR Bonjour.") and returns the remaining text plus the parsed code.
func stripLanguagePrefix(s string) (text string, lang string) {
	trimmed := strings.TrimLeft(s, " \t\n\r")

	if strings.HasPrefix(trimmed, "<") {
		end := strings.Index(trimmed, ">")
		if end > 1 {
			code := trimmed[1:end]
			if looksLikeLanguageCode(code) {
				return strings.TrimLeft(trimmed[end+1:], " "), code
			}
		}
		return s, ""
	}

	if sp := strings.IndexAny(trimmed, " \t"); sp > 0 {
		candidate := trimmed[:sp]
		if looksLikeLanguageCode(candidate) {
			return strings.TrimLeft(trimmed[sp:], " "), candidate
		}
	}

	return s, ""
}

// looksLikeLanguageCode accepts BCP-47-ish tokens shaped like every entry
// in the Language table: "xx-XX" (2-3 letter language, "-", 2-4 letter
// region). Requiring the hyphen keeps ordinary short words like "OK" or
// "No" from being misread as a language prefix.
func looksLikeLanguageCode(s string) bool {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return false
	}
	if len(parts[0]) < 2 || len(parts[0]) > 3 || !isAlpha(parts[0]) {
		return false
	}
	if len(parts[1]) < 2 || len(parts[1]) > 4 || !isAlpha(parts[1]) {
		return false
	}
	return true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}
