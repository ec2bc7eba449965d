package llm

import (
	"context"
	"strings"
)

// ReasoningExtractor splits a raw token stream into answer text and the
// reasoning segment delimited by <tag>...</tag>. Delimiters may be split
// across any number of chunks.
type ReasoningExtractor struct {
	open      string
	close     string
	inside    bool
	pending   string
	afterTag  bool
	separator string
}

// NewReasoningExtractor returns an extractor for the given tag name, e.g. "think".
func NewReasoningExtractor(tag string) *ReasoningExtractor {
	return &ReasoningExtractor{
		open:      "<" + tag + ">",
		close:     "</" + tag + ">",
		separator: "\n",
	}
}

// Segment is a piece of output classified as reasoning or answer text.
type Segment struct {
	Reasoning bool
	Text      string
}

// Feed consumes a chunk and returns the segments that can be released.
// Text that might be the beginning of a delimiter is held back until the
// next chunk (or Flush) resolves it.
func (x *ReasoningExtractor) Feed(chunk string) []Segment {
	buf := x.pending + chunk
	x.pending = ""

	var out []Segment
	for buf != "" {
		delim := x.open
		if x.inside {
			delim = x.close
		}

		if idx := strings.Index(buf, delim); idx >= 0 {
			out = x.emit(out, buf[:idx])
			buf = buf[idx+len(delim):]
			x.inside = !x.inside
			x.afterTag = true
			continue
		}

		keep := partialSuffix(buf, delim)
		out = x.emit(out, buf[:len(buf)-keep])
		x.pending = buf[len(buf)-keep:]
		break
	}
	return out
}

// Flush releases any held-back text. An unterminated reasoning segment stays reasoning.
func (x *ReasoningExtractor) Flush() []Segment {
	rest := x.pending
	x.pending = ""
	return x.emit(nil, rest)
}

func (x *ReasoningExtractor) emit(out []Segment, text string) []Segment {
	if x.afterTag {
		// A newline right after a tag belongs to neither segment.
		if text == "" {
			return out
		}
		text = strings.TrimPrefix(text, x.separator)
		x.afterTag = false
	}
	if text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Reasoning == x.inside {
		out[n-1].Text += text
		return out
	}
	return append(out, Segment{Reasoning: x.inside, Text: text})
}

// partialSuffix returns the length of the longest suffix of s that is a proper
// prefix of delim.
func partialSuffix(s, delim string) int {
	limit := len(delim) - 1
	if limit > len(s) {
		limit = len(s)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(s, delim[:n]) {
			return n
		}
	}
	return 0
}

// ExtractReasoning strips a complete reasoning segment from generated text.
func ExtractReasoning(text, tag string) (reasoning, answer string) {
	x := NewReasoningExtractor(tag)
	segs := append(x.Feed(text), x.Flush()...)
	var r, a strings.Builder
	for _, s := range segs {
		if s.Reasoning {
			r.WriteString(s.Text)
		} else {
			a.WriteString(s.Text)
		}
	}
	return r.String(), a.String()
}

// reasoningModel wraps a LanguageModel so that inline reasoning is reported
// as EventReasoningDelta instead of plain text.
type reasoningModel struct {
	LanguageModel
	tag string
}

// WithReasoningExtraction wraps model with the reasoning filter for tag.
func WithReasoningExtraction(model LanguageModel, tag string) LanguageModel {
	return &reasoningModel{LanguageModel: model, tag: tag}
}

func (m *reasoningModel) Stream(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	in, err := m.LanguageModel.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		x := NewReasoningExtractor(m.tag)
		forward := func(segs []Segment) bool {
			for _, s := range segs {
				ev := Event{Type: EventTextDelta, Delta: s.Text}
				if s.Reasoning {
					ev.Type = EventReasoningDelta
				}
				if !send(ctx, out, ev) {
					return false
				}
			}
			return true
		}

		for ev := range in {
			if ev.Type == EventTextDelta {
				if !forward(x.Feed(ev.Delta)) {
					return
				}
				continue
			}
			if ev.Type == EventFinish || ev.Type == EventError || ev.Type == EventToolCall {
				if !forward(x.Flush()) {
					return
				}
			}
			if !send(ctx, out, ev) {
				return
			}
		}
	}()
	return out, nil
}

func (m *reasoningModel) Generate(ctx context.Context, req CompletionRequest) (string, error) {
	text, err := m.LanguageModel.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	_, answer := ExtractReasoning(text, m.tag)
	return answer, nil
}
