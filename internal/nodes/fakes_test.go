package nodes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/pkg/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var errBoom = errors.New("boom")

// fakePredictor answers by task name and records the inputs it saw.
type fakePredictor struct {
	mu      sync.Mutex
	outputs map[string]map[string]string
	errs    map[string]error
	inputs  map[string][]map[string]string
}

func newFakePredictor() *fakePredictor {
	return &fakePredictor{
		outputs: map[string]map[string]string{},
		errs:    map[string]error{},
		inputs:  map[string][]map[string]string{},
	}
}

func (f *fakePredictor) on(task string, out map[string]string) *fakePredictor {
	f.outputs[task] = out
	return f
}

func (f *fakePredictor) fail(task string, err error) *fakePredictor {
	f.errs[task] = err
	return f
}

func (f *fakePredictor) Predict(_ context.Context, sig *reasoning.Signature, in map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[sig.Name] = append(f.inputs[sig.Name], in)
	if err := f.errs[sig.Name]; err != nil {
		return nil, err
	}
	return f.outputs[sig.Name], nil
}

func (f *fakePredictor) calls(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs[task])
}

func (f *fakePredictor) lastInput(task string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.inputs[task]
	if len(in) == 0 {
		return nil
	}
	return in[len(in)-1]
}

type staticSearcher struct {
	docs []schema.Passage
	err  error
	k    int
}

func (s *staticSearcher) Search(_ context.Context, _ string, k int) ([]schema.Passage, error) {
	s.k = k
	return s.docs, s.err
}

type scriptedRunner struct {
	envelopes [][]byte
	err       error
	queries   []string
}

func (r *scriptedRunner) Execute(_ context.Context, q string) ([]byte, error) {
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}
	i := len(r.queries) - 1
	if i >= len(r.envelopes) {
		i = len(r.envelopes) - 1
	}
	return r.envelopes[i], nil
}

type staticSchema struct {
	desc string
	err  error
}

func (s staticSchema) Describe(context.Context) (string, error) { return s.desc, s.err }
