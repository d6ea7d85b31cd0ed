package reasoning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"parse", schema.NewError(schema.ErrCodeParse, "missing"), false},
		{"circuit open", schema.NewError(schema.ErrCodeCircuitOpen, "open"), false},
		{"api 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"api 503", &openai.APIError{HTTPStatusCode: 503}, true},
		{"api 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"unknown", errors.New("model not found"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
