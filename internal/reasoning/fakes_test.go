package reasoning

import (
	"context"
	"sync"
)

// scriptedLM replays replies (or errors) in order and records prompts.
type scriptedLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []Prompt
}

func (s *scriptedLM) Name() string { return "scripted" }

func (s *scriptedLM) Generate(_ context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, p)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	if len(s.replies) > 0 {
		return s.replies[len(s.replies)-1], nil
	}
	return "", nil
}

func (s *scriptedLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
