package llm

import (
	"context"
	"sync"
)

// scriptedModel replays one event script per Stream call.
type scriptedModel struct {
	mu       sync.Mutex
	id       string
	steps    [][]Event
	requests []CompletionRequest

	generated string
	genErr    error
}

func (m *scriptedModel) ModelID() string {
	if m.id == "" {
		return "scripted"
	}
	return m.id
}

func (m *scriptedModel) Stream(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var evs []Event
	if len(m.steps) > 0 {
		evs = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		for _, ev := range evs {
			if !send(ctx, out, ev) {
				return
			}
		}
	}()
	return out, nil
}

func (m *scriptedModel) Generate(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.generated, m.genErr
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []Event) []EventType {
	out := make([]EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func textDelta(s string) Event { return Event{Type: EventTextDelta, Delta: s} }

func finish(r FinishReason) Event { return Event{Type: EventFinish, FinishReason: r} }
