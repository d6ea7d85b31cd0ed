package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/copilot/internal/logging"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/pkg/schema"
)

// maxVisits caps node executions per run. The default graph needs at most 10.
const maxVisits = 16

// Node is one step of the workflow. Run must not fail: every collaborator
// error is converted into the returned update.
type Node interface {
	Run(ctx context.Context, s *State) Update
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, s *State) Update

// Run calls f.
func (f NodeFunc) Run(ctx context.Context, s *State) Update { return f(ctx, s) }

// Observer is called after each node with the update it produced.
type Observer func(node NodeID, u Update)

// Recorder persists the run and its node trace. Satisfied by store.Store.
type Recorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Metrics receives run and node measurements.
type Metrics interface {
	ObserveNode(node string, d time.Duration)
	ObserveTransition(from, to string)
	ObserveRun(route string, repairs int, confidence float64, d time.Duration)
}

// Step is one entry of the in-memory run trace.
type Step struct {
	Node     NodeID
	Next     NodeID
	Fields   []string
	Duration time.Duration
}

// Result is the outcome of one run. State is always populated.
type Result struct {
	RunID    string
	State    *State
	Trace    []Step
	Duration time.Duration
}

// Answer returns the output record for the run.
func (r *Result) Answer() schema.Answer {
	return r.State.Answer()
}

// Engine interprets a Graph over a set of nodes. It holds no per-run state and
// may be shared by concurrent callers.
type Engine struct {
	graph     *Graph
	nodes     map[NodeID]Node
	recorder  Recorder
	metrics   Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	maxVisits int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder persists every run through r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics reports measurements to m.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine binds nodes to a graph. Every node the graph can reach must be bound.
func NewEngine(g *Graph, nodes map[NodeID]Node, opts ...Option) (*Engine, error) {
	for _, id := range g.Nodes() {
		if _, ok := nodes[id]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "no implementation bound for node %q", id)
		}
	}
	e := &Engine{
		graph:     g,
		nodes:     nodes,
		tracer:    otel.Tracer("github.com/rendis/copilot/internal/workflow"),
		logger:    slog.Default(),
		maxVisits: maxVisits,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the engine's transition table.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Run answers one question. The returned Result is never nil; the error is
// non-nil only when ctx ends before the run reaches the end node.
func (e *Engine) Run(ctx context.Context, q schema.Question, obs Observer) (*Result, error) {
	runID := uuid.NewString()
	ctx = logging.WithIDs(ctx, runID, q.ID)
	ctx, span := e.tracer.Start(ctx, "copilot.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("question.id", q.ID),
	))
	defer span.End()

	start := time.Now()
	s := NewState(q)
	res := &Result{RunID: runID, State: s}

	e.logger.InfoContext(ctx, "run started", "question", q.Question, "format_hint", q.FormatHint)
	e.recordStart(ctx, runID, q, start)

	var runErr error
	current := e.graph.Start()
	visits := 0
	for current != NodeEnd {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if visits >= e.maxVisits {
			e.logger.ErrorContext(ctx, "visit ceiling reached, forcing synthesis", "visits", visits, "node", string(current))
			e.appendEvent(ctx, runID, string(current), schema.EventVisitCeiling, nil, 0)
			if e.nodes[NodeSynthesizer] == nil {
				break
			}
			step := e.runNode(ctx, NodeSynthesizer, s, obs)
			step.Next = NodeEnd
			res.Trace = append(res.Trace, step)
			e.afterNode(ctx, runID, step, s)
			break
		}
		visits++

		step := e.runNode(ctx, current, s, obs)
		step.Next = e.graph.Next(ctx, current, s)
		res.Trace = append(res.Trace, step)
		e.afterNode(ctx, runID, step, s)
		if e.metrics != nil {
			e.metrics.ObserveTransition(string(current), string(step.Next))
		}
		current = step.Next
	}

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("run.route", string(s.Route)),
		attribute.Int("run.repair_steps", s.RepairSteps),
		attribute.Float64("run.confidence", s.Confidence),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(string(s.Route), s.RepairSteps, s.Confidence, res.Duration)
	}
	e.recordFinish(ctx, runID, s, res.Duration, runErr)
	e.logger.InfoContext(ctx, "run completed",
		"route", string(s.Route), "repair_steps", s.RepairSteps,
		"confidence", s.Confidence, "duration_ms", res.Duration.Milliseconds())
	return res, runErr
}

func (e *Engine) runNode(ctx context.Context, id NodeID, s *State, obs Observer) Step {
	ctx = logging.WithNode(ctx, string(id))
	ctx, span := e.tracer.Start(ctx, "copilot.node."+string(id))
	defer span.End()

	start := time.Now()
	u := e.nodes[id].Run(ctx, s)
	s.Apply(u)
	d := time.Since(start)

	if e.metrics != nil {
		e.metrics.ObserveNode(string(id), d)
	}
	if obs != nil {
		obs(id, u)
	}
	e.logger.DebugContext(ctx, "node finished", "fields", u.Fields(), "duration_ms", d.Milliseconds())
	return Step{Node: id, Fields: u.Fields(), Duration: d}
}

func (e *Engine) afterNode(ctx context.Context, runID string, step Step, s *State) {
	payload, _ := json.Marshal(store.NodePayload{Next: string(step.Next), Fields: step.Fields})
	e.appendEvent(ctx, runID, string(step.Node), schema.EventNodeCompleted, payload, step.Duration.Milliseconds())

	switch step.Node {
	case NodeRouter:
		route, _ := json.Marshal(map[string]string{"route": string(s.Route)})
		e.appendEvent(ctx, runID, string(step.Node), schema.EventRouteSelected, route, 0)
	case NodeRepair:
		attempt, _ := json.Marshal(map[string]int{"repair_steps": s.RepairSteps})
		e.appendEvent(ctx, runID, string(step.Node), schema.EventRepairAttempt, attempt, 0)
	case NodeExecutor:
		if s.IsSQLError && s.RepairSteps >= MaxRepairs {
			e.logger.WarnContext(ctx, "repair budget exhausted", "repair_steps", s.RepairSteps)
			e.appendEvent(ctx, runID, string(step.Node), schema.EventRepairExhausted, nil, 0)
		}
	}
}

func (e *Engine) recordStart(ctx context.Context, runID string, q schema.Question, start time.Time) {
	if e.recorder == nil {
		return
	}
	run := &store.Run{
		ID:         runID,
		QuestionID: q.ID,
		Question:   q.Question,
		FormatHint: q.FormatHint,
		Status:     store.RunStatusRunning,
		CreatedAt:  start.UTC(),
	}
	if err := e.recorder.CreateRun(ctx, run); err != nil {
		e.logger.WarnContext(ctx, "record run start failed", "error", err)
		return
	}
	e.appendEvent(ctx, runID, "", schema.EventRunStarted, nil, 0)
}

func (e *Engine) recordFinish(ctx context.Context, runID string, s *State, d time.Duration, runErr error) {
	if e.recorder == nil {
		return
	}
	// The run is persisted even when ctx was cancelled.
	ctx = context.WithoutCancel(ctx)

	status := store.RunStatusCompleted
	if runErr != nil {
		status = store.RunStatusCancelled
	}
	answer, _ := json.Marshal(s.Answer())
	route := string(s.Route)
	done := time.Now().UTC()
	ms := d.Milliseconds()
	update := store.RunUpdate{
		Status:      &status,
		Route:       &route,
		RepairSteps: Ptr(s.RepairSteps),
		Confidence:  Ptr(s.Confidence),
		SQL:         Ptr(s.SQLQuery),
		Answer:      answer,
		CompletedAt: &done,
		DurationMs:  &ms,
	}
	if err := e.recorder.UpdateRun(ctx, runID, update); err != nil {
		e.logger.WarnContext(ctx, "record run finish failed", "error", err)
		return
	}
	e.appendEvent(ctx, runID, "", schema.EventRunCompleted, nil, ms)
}

func (e *Engine) appendEvent(ctx context.Context, runID, node, typ string, payload json.RawMessage, ms int64) {
	if e.recorder == nil {
		return
	}
	ev := &store.Event{RunID: runID, Node: node, Type: typ, Payload: payload, DurationMs: ms}
	if err := e.recorder.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "append trace event failed", "type", typ, "error", err)
	}
}
