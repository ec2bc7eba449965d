package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinSegments(segs []Segment) (reasoning, answer string) {
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

func TestReasoningExtractor_SplitDelimiters(t *testing.T) {
	x := NewReasoningExtractor("think")
	var segs []Segment
	for _, chunk := range []string{"<thi", "nk>ab", "c</th", "ink>\nhel", "lo"} {
		segs = append(segs, x.Feed(chunk)...)
	}
	segs = append(segs, x.Flush()...)

	reasoning, answer := joinSegments(segs)
	assert.Equal(t, "abc", reasoning)
	assert.Equal(t, "hello", answer)
}

func TestReasoningExtractor_HoldsPartialOpenTag(t *testing.T) {
	x := NewReasoningExtractor("think")

	segs := x.Feed("a <")
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Text: "a "}, segs[0])

	// The held "<" turns out not to be a tag.
	segs = x.Feed("b")
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Text: "<b"}, segs[0])
}

func TestReasoningExtractor_UnterminatedReasoning(t *testing.T) {
	x := NewReasoningExtractor("think")
	segs := append(x.Feed("<think>still going</"), x.Flush()...)

	reasoning, answer := joinSegments(segs)
	assert.Equal(t, "still going</", reasoning)
	assert.Empty(t, answer)
}

func TestReasoningExtractor_NoTag(t *testing.T) {
	x := NewReasoningExtractor("think")
	segs := append(x.Feed("plain answer"), x.Flush()...)

	reasoning, answer := joinSegments(segs)
	assert.Empty(t, reasoning)
	assert.Equal(t, "plain answer", answer)
}

func TestExtractReasoning(t *testing.T) {
	reasoning, answer := ExtractReasoning("<think>plan it</think>\nthe answer", "think")
	assert.Equal(t, "plan it", reasoning)
	assert.Equal(t, "the answer", answer)
}

func TestWithReasoningExtraction_Stream(t *testing.T) {
	inner := &scriptedModel{steps: [][]Event{{
		textDelta("<think>let me "),
		textDelta("see</think>"),
		textDelta("\nDone"),
		finish(FinishStop),
	}}}
	model := WithReasoningExtraction(inner, "think")

	ch, err := model.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	evs := drain(ch)

	var reasoning, text strings.Builder
	for _, ev := range evs {
		switch ev.Type {
		case EventReasoningDelta:
			reasoning.WriteString(ev.Delta)
		case EventTextDelta:
			text.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "let me see", reasoning.String())
	assert.Equal(t, "Done", text.String())
	assert.Equal(t, EventFinish, evs[len(evs)-1].Type)
}

func TestWithReasoningExtraction_FlushesBeforeFinish(t *testing.T) {
	inner := &scriptedModel{steps: [][]Event{{
		textDelta("ends with <"),
		finish(FinishStop),
	}}}
	model := WithReasoningExtraction(inner, "think")

	ch, err := model.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	evs := drain(ch)

	require.Len(t, evs, 3)
	assert.Equal(t, "ends with ", evs[0].Delta)
	assert.Equal(t, "<", evs[1].Delta)
	assert.Equal(t, EventFinish, evs[2].Type)
}

func TestWithReasoningExtraction_Generate(t *testing.T) {
	inner := &scriptedModel{generated: "<think>hidden</think>\nVisible title"}
	model := WithReasoningExtraction(inner, "think")

	out, err := model.Generate(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Visible title", out)
}
