package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/stream"
)

type memStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      []*models.Message
	inserts       int

	getErr    error
	createErr error
	deleteErr error
	appendErr error
	// appendErrFor fails appends of messages with this role only.
	appendErrFor string
}

func newMemStore() *memStore {
	return &memStore{conversations: map[string]*models.Conversation{}}
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateIfAbsent(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if existing, ok := m.conversations[c.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *c
	m.conversations[c.ID] = &cp
	m.inserts++
	return c, true, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.conversations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.conversations, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Append(ctx context.Context, messages ...*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		if m.appendErr != nil && (m.appendErrFor == "" || m.appendErrFor == msg.Role) {
			return m.appendErr
		}
		for _, stored := range m.messages {
			if stored.ID == msg.ID && stored.ConversationID != msg.ConversationID {
				return repository.ErrMessageConflict
			}
		}
	}
	m.messages = append(m.messages, messages...)
	return nil
}

func (m *memStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) messagesFor(conversationID string) []*models.Message {
	out, _ := m.ListByConversation(context.Background(), conversationID)
	return out
}

// fakeModel plays back one event script per Stream call and a fixed title.
type fakeModel struct {
	mu          sync.Mutex
	steps       [][]llm.Event
	streamCalls int
	lastRequest llm.CompletionRequest
	// hold, when set, blocks each stream until the context is done.
	hold bool

	title      string
	titleErr   error
	titleCalls atomic.Int32
	titleGate  chan struct{}
}

func (m *fakeModel) ModelID() string { return "fake" }

func (m *fakeModel) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Event, error) {
	m.mu.Lock()
	m.streamCalls++
	m.lastRequest = req
	var evs []llm.Event
	if len(m.steps) > 0 {
		evs = m.steps[0]
		m.steps = m.steps[1:]
	}
	hold := m.hold
	m.mu.Unlock()

	out := make(chan llm.Event)
	go func() {
		defer close(out)
		for _, ev := range evs {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (m *fakeModel) Generate(ctx context.Context, req llm.CompletionRequest) (string, error) {
	m.titleCalls.Add(1)
	if m.titleGate != nil {
		select {
		case <-m.titleGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.title, m.titleErr
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

type publishedEvent struct {
	userID uuid.UUID
	msg    models.WSMessage
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userID, msg})
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.msg.Type)
	}
	return out
}

var errClientGone = errors.New("client gone")

// recordingWriter collects chunks. With failOn set, writing a chunk of that
// type fails as if the client disconnected.
type recordingWriter struct {
	chunks []stream.Chunk
	done   bool
	failOn string
}

func (w *recordingWriter) WriteChunk(c stream.Chunk) error {
	if w.failOn != "" && c.Type == w.failOn {
		return errClientGone
	}
	w.chunks = append(w.chunks, c)
	return nil
}

func (w *recordingWriter) Done() error {
	w.done = true
	return nil
}

func (w *recordingWriter) types() []string {
	out := make([]string, len(w.chunks))
	for i, c := range w.chunks {
		out[i] = c.Type
	}
	return out
}

func (w *recordingWriter) text(kind string) string {
	var s string
	for _, c := range w.chunks {
		if c.Type == kind {
			s += c.Delta
		}
	}
	return s
}
