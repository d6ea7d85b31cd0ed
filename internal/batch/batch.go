// Package batch answers a JSONL file of questions, one at a time, and writes
// one answer line per valid question.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/rendis/copilot/internal/validation"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

const maxLineBytes = 1024 * 1024

// Answerer runs one question to completion. Satisfied by *workflow.Engine.
type Answerer interface {
	Run(ctx context.Context, q schema.Question, obs workflow.Observer) (*workflow.Result, error)
}

// ObserverFunc builds the per-node observer for a question. It may return nil.
type ObserverFunc func(q schema.Question) workflow.Observer

// Summary describes a finished batch.
type Summary struct {
	BatchID  string        `json:"batch_id"`
	Total    int           `json:"total"`
	Answered int           `json:"answered"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Runner answers batches sequentially.
type Runner struct {
	answerer  Answerer
	validator *validation.RecordValidator
	observer  ObserverFunc
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver installs a progress observer for every question.
func WithObserver(fn ObserverFunc) Option {
	return func(r *Runner) { r.observer = fn }
}

// WithLogger overrides the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a batch runner.
func NewRunner(a Answerer, v *validation.RecordValidator, opts ...Option) *Runner {
	r := &Runner{answerer: a, validator: v, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadQuestions parses a question JSONL stream. Blank lines are ignored.
// Invalid lines are skipped and reported together in the returned error; the
// valid questions are returned either way.
func ReadQuestions(r io.Reader, v *validation.RecordValidator) ([]schema.Question, error) {
	var (
		out  []schema.Question
		errs *multierror.Error
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := v.ValidateQuestion(raw).AtLine(line).ToError(); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		var q schema.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("read questions: %w", err))
	}
	return out, errs.ErrorOrNil()
}

// Run reads questions from in and writes answers to out in input order.
// Skipped input lines are reported in the returned error after every valid
// question has been answered. Cancellation stops the batch between questions.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) (Summary, error) {
	start := time.Now()
	sum := Summary{BatchID: uuid.NewString()}
	logger := r.logger.With("batch_id", sum.BatchID)

	questions, inputErr := ReadQuestions(in, r.validator)
	if merr, ok := inputErr.(*multierror.Error); ok {
		sum.Skipped = len(merr.Errors)
		for _, e := range merr.Errors {
			logger.WarnContext(ctx, "skipping invalid question", "error", e)
		}
	}
	sum.Total = len(questions) + sum.Skipped
	logger.InfoContext(ctx, "batch started", "questions", len(questions), "skipped", sum.Skipped)

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	var errs *multierror.Error
	if inputErr != nil {
		errs = multierror.Append(errs, inputErr)
	}
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		var obs workflow.Observer
		if r.observer != nil {
			obs = r.observer(q)
		}
		res, err := r.answerer.Run(ctx, q, obs)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("question %s: %w", q.ID, err))
			break
		}

		ans := res.Answer()
		if v := r.validator.ValidateAnswer(ans); !v.Valid() {
			logger.WarnContext(ctx, "answer record failed validation", "question_id", q.ID, "error", v.ToError())
		}
		if err := enc.Encode(ans); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("write answer %s: %w", q.ID, err))
			break
		}
		sum.Answered++
	}

	sum.Duration = time.Since(start)
	logger.InfoContext(ctx, "batch finished",
		"answered", sum.Answered, "skipped", sum.Skipped, "duration_ms", sum.Duration.Milliseconds())
	return sum, errs.ErrorOrNil()
}

// RunFiles answers inPath into outPath, creating the output directory.
func (r *Runner) RunFiles(ctx context.Context, inPath, outPath string) (Summary, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return Summary{}, schema.NewErrorf(schema.ErrCodeNotFound, "open questions: %s", err.Error()).WithCause(err)
	}
	defer in.Close()

	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Summary{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return Summary{}, fmt.Errorf("create outputs: %w", err)
	}

	w := bufio.NewWriter(out)
	sum, runErr := r.Run(ctx, in, w)
	if err := w.Flush(); err != nil {
		runErr = multierror.Append(runErr, fmt.Errorf("flush outputs: %w", err))
	}
	if err := out.Close(); err != nil {
		runErr = multierror.Append(runErr, fmt.Errorf("close outputs: %w", err))
	}
	return sum, runErr
}
