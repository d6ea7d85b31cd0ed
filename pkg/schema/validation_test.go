package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
}

func TestValidationResult_AddAndLine(t *testing.T) {
	r := &ValidationResult{}
	r.Add("/question", "missing property")
	r.AtLine(7)

	assert.False(t, r.Valid())
	require.Len(t, r.Issues, 1)
	assert.Equal(t, 7, r.Issues[0].Line)
	assert.Equal(t, "line 7 /question: missing property", r.Issues[0].String())
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.Add("/id", "expected string")
	r.Add("", "additional property")

	err := r.ToError()
	require.Error(t, err)

	var cErr *CopilotError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, ErrCodeValidation, cErr.Code)
	assert.Contains(t, cErr.Message, "2 issues")
	assert.Equal(t, 2, cErr.Details["issue_count"])
}

func TestCopilotError_Format(t *testing.T) {
	cause := errors.New("disk full")
	err := NewErrorf(ErrCodeStore, "write run %s", "r-1").WithNode("synthesizer").WithCause(cause)

	assert.Equal(t, "[STORE_ERROR] node synthesizer: write run r-1", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
	assert.False(t, NewError(ErrCodeSecurity, "blocked").IsRetryable())
}

func TestRoute_Valid(t *testing.T) {
	for _, r := range Routes {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Route("").Valid())
	assert.False(t, Route("HYBRID").Valid())
	assert.True(t, RouteHybrid.UsesSQL())
	assert.True(t, RouteSQL.UsesSQL())
	assert.False(t, RouteRAG.UsesSQL())
}
