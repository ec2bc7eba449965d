package stream

import (
	"context"
	"regexp"
	"strings"
	"time"
)

var wordPattern = regexp.MustCompile(`\S+\s+`)

// Smoother regroups incremental deltas into whole words, optionally pacing
// them with a fixed delay. Deltas of different kinds (text, reasoning) are
// buffered separately; switching kind flushes the buffer first.
type Smoother struct {
	delay time.Duration
	emit  func(kind, text string) error

	kind string
	buf  strings.Builder
}

// NewSmoother returns a Smoother that hands each word group to emit.
func NewSmoother(delay time.Duration, emit func(kind, text string) error) *Smoother {
	return &Smoother{delay: delay, emit: emit}
}

// Push buffers text of the given kind and emits every complete word.
func (s *Smoother) Push(ctx context.Context, kind, text string) error {
	if kind != s.kind {
		if err := s.Flush(); err != nil {
			return err
		}
		s.kind = kind
	}
	s.buf.WriteString(text)

	for {
		buffered := s.buf.String()
		loc := wordPattern.FindStringIndex(buffered)
		if loc == nil {
			return nil
		}
		s.buf.Reset()
		s.buf.WriteString(buffered[loc[1]:])

		if err := s.emit(kind, buffered[:loc[1]]); err != nil {
			return err
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// Flush emits whatever is buffered, complete word or not.
func (s *Smoother) Flush() error {
	if s.buf.Len() == 0 {
		return nil
	}
	text := s.buf.String()
	s.buf.Reset()
	return s.emit(s.kind, text)
}

func (s *Smoother) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
