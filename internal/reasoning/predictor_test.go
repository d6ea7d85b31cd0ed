package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rendis/copilot/internal/cache"
	"github.com/rendis/copilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgram_Predict(t *testing.T) {
	lm := &scriptedLM{replies: []string{"[[ ## reasoning ## ]]\nexplicit date\n[[ ## classification ## ]]\nsql\n[[ ## completed ## ]]"}}
	p := NewProgram(lm, nil)

	out, err := p.Predict(context.Background(), RouteSignature, map[string]string{"question": "Total sales in May 1997?"})
	require.NoError(t, err)
	assert.Equal(t, "sql", out["classification"])
	require.Len(t, lm.prompts, 1)
	assert.Equal(t, TaskRoute, lm.prompts[0].Task)
	assert.Contains(t, lm.prompts[0].User, "Total sales in May 1997?")
}

func TestProgram_PredictErrors(t *testing.T) {
	boom := errors.New("boom")
	p := NewProgram(&scriptedLM{errs: []error{boom}}, nil)
	_, err := p.Predict(context.Background(), RouteSignature, nil)
	assert.ErrorIs(t, err, boom)

	p = NewProgram(&scriptedLM{replies: []string{"[[ ## final_answer ## ]]\n1"}}, nil)
	_, err = p.Predict(context.Background(), SynthesizeSignature, nil)
	assert.Error(t, err)
}

func TestProgram_ReasksOnceAfterUnparseableReply(t *testing.T) {
	lm := &scriptedLM{replies: []string{
		"the answer is 42",
		"[[ ## reasoning ## ]]\nfrom rows\n[[ ## final_answer ## ]]\n42\n[[ ## explanation ## ]]\none row\n[[ ## citations ## ]]\n[]\n[[ ## completed ## ]]",
	}}
	p := NewProgram(lm, nil)

	out, err := p.Predict(context.Background(), SynthesizeSignature, map[string]string{"question": "How many?"})
	require.NoError(t, err)
	assert.Equal(t, "42", out["final_answer"])
	require.Len(t, lm.prompts, 2)
	assert.Equal(t, lm.prompts[0].System, lm.prompts[1].System)
	assert.True(t, strings.HasPrefix(lm.prompts[1].User, lm.prompts[0].User))
	assert.Contains(t, lm.prompts[1].User, "reply is missing")
	assert.Contains(t, lm.prompts[1].User, "[[ ## completed ## ]]")
}

func TestProgram_GivesUpAfterSecondUnparseableReply(t *testing.T) {
	lm := &scriptedLM{replies: []string{"[[ ## final_answer ## ]]\n1"}}
	p := NewProgram(lm, nil)

	_, err := p.Predict(context.Background(), SynthesizeSignature, nil)
	require.Error(t, err)
	var cErr *schema.CopilotError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeParse, cErr.Code)
	assert.Equal(t, 2, lm.calls())
}

func TestProgram_BackendErrorIsNotReasked(t *testing.T) {
	lm := &scriptedLM{errs: []error{errors.New("boom")}, replies: []string{"", "sql"}}
	p := NewProgram(lm, nil)

	_, err := p.Predict(context.Background(), RouteSignature, nil)
	require.Error(t, err)
	assert.Equal(t, 1, lm.calls())
}

func TestProgram_UnparseableCachedReplyIsEvicted(t *testing.T) {
	store, err := cache.OpenBadger(cache.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	inputs := map[string]string{"question": "How many?"}
	prompt := SynthesizeSignature.Render(inputs)
	bad := "[[ ## final_answer ## ]]\n1"
	require.NoError(t, store.Set(ctx, CacheKey("scripted", prompt), []byte(bad), time.Hour))

	lm := &scriptedLM{replies: []string{bad}}
	p := NewProgram(NewCached(lm, store, time.Hour, nil), nil)

	_, err = p.Predict(ctx, SynthesizeSignature, inputs)
	require.Error(t, err)
	// The poisoned entry was served, then the retry reached the backend.
	assert.Equal(t, 1, lm.calls())

	_, err = store.Get(ctx, CacheKey("scripted", prompt))
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = store.Get(ctx, CacheKey("scripted", withCorrection(prompt, errors.New("x"))))
	assert.ErrorIs(t, err, cache.ErrMiss)
}
