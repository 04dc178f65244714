// Package graph implements a small directed-graph execution engine.
//
// A graph is a set of named nodes connected by unconditional edges and
// conditional (router) edges. Nodes receive a read view of the session and
// return partial state updates; the engine applies each update to a working
// clone and accumulates the combined update for the caller. A compiled
// graph exposes itself as a node, so a worker graph can be embedded as a
// single node of a parent graph.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nbfc-labs/loanflow/coreengine/observability"
	"github.com/nbfc-labs/loanflow/coreengine/state"
)

var tracer = otel.Tracer("loanflow/graph")

// ===== ERRORS =====

var (
	// ErrConfiguration marks structural mistakes: duplicate or unknown
	// nodes, dangling edges, routers returning unmapped keys. These are
	// programmer errors and abort the run.
	ErrConfiguration = errors.New("graph configuration error")

	// ErrStepLimit marks a run that exceeded its step budget.
	ErrStepLimit = errors.New("graph step limit exceeded")
)

// ===== INTERFACES =====

// NodeFunc executes one graph node. It must not mutate the session; all
// changes travel through the returned update.
type NodeFunc func(ctx context.Context, s *state.Session) (*state.Update, error)

// RouterFunc inspects the session after a node ran and returns a routing
// key. The key must be mapped in the node's conditional edge table.
type RouterFunc func(s *state.Session) string

// Logger is the minimal structured logging interface used by the engine.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ===== BUILDER =====

// Sentinel node names.
const (
	Start = "__start__"
	End   = "__end__"
)

const defaultMaxSteps = 50

type conditionalEdge struct {
	router  RouterFunc
	targets map[string]string
}

// Builder assembles a graph and validates it at Compile time.
type Builder struct {
	name     string
	nodes    map[string]NodeFunc
	edges    map[string]string
	routers  map[string]*conditionalEdge
	maxSteps int
	logger   Logger
	errs     []error
}

// New creates a graph builder.
func New(name string) *Builder {
	return &Builder{
		name:     name,
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string]string),
		routers:  make(map[string]*conditionalEdge),
		maxSteps: defaultMaxSteps,
	}
}

// AddNode registers a named node. Names must be unique and must not use
// the Start/End sentinels.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == Start || name == End:
		b.errs = append(b.errs, fmt.Errorf("%w: node name %q is reserved", ErrConfiguration, name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("%w: node %q has nil func", ErrConfiguration, name))
	default:
		if _, exists := b.nodes[name]; exists {
			b.errs = append(b.errs, fmt.Errorf("%w: duplicate node %q", ErrConfiguration, name))
			return b
		}
		b.nodes[name] = fn
	}
	return b
}

// AddEdge registers an unconditional edge. An edge from Start sets the
// entry node; an edge to End terminates the run.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, exists := b.edges[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: node %q already has an outgoing edge", ErrConfiguration, from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges registers a router on a node. After the node runs,
// the router picks a key and execution continues at targets[key].
func (b *Builder) AddConditionalEdges(from string, router RouterFunc, targets map[string]string) *Builder {
	if router == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: conditional edge on %q needs a router and targets", ErrConfiguration, from))
		return b
	}
	if _, exists := b.routers[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: node %q already has a router", ErrConfiguration, from))
		return b
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	b.routers[from] = &conditionalEdge{router: router, targets: copied}
	return b
}

// WithMaxSteps caps node executions per run. Exceeding the cap aborts the
// run with ErrStepLimit.
func (b *Builder) WithMaxSteps(n int) *Builder {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

// WithLogger attaches a logger used during runs.
func (b *Builder) WithLogger(l Logger) *Builder {
	b.logger = l
	return b
}

// Compile validates the graph and freezes it for execution.
func (b *Builder) Compile() (*CompiledGraph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	entry, ok := b.edges[Start]
	if !ok {
		return nil, fmt.Errorf("%w: graph %q has no entry edge from Start", ErrConfiguration, b.name)
	}
	// Every referenced node must exist.
	check := func(from, to string) error {
		if to == End {
			return nil
		}
		if _, ok := b.nodes[to]; !ok {
			return fmt.Errorf("%w: edge from %q targets unknown node %q", ErrConfiguration, from, to)
		}
		return nil
	}
	for from, to := range b.edges {
		if from != Start {
			if _, ok := b.nodes[from]; !ok {
				return nil, fmt.Errorf("%w: edge leaves unknown node %q", ErrConfiguration, from)
			}
		}
		if err := check(from, to); err != nil {
			return nil, err
		}
	}
	for from, ce := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: router on unknown node %q", ErrConfiguration, from)
		}
		if _, dup := b.edges[from]; dup {
			return nil, fmt.Errorf("%w: node %q has both an edge and a router", ErrConfiguration, from)
		}
		for key, to := range ce.targets {
			if err := check(from, to); err != nil {
				return nil, fmt.Errorf("router key %q: %w", key, err)
			}
		}
	}
	return &CompiledGraph{
		name:     b.name,
		entry:    entry,
		nodes:    b.nodes,
		edges:    b.edges,
		routers:  b.routers,
		maxSteps: b.maxSteps,
		logger:   b.logger,
	}, nil
}

// ===== COMPILED GRAPH =====

// CompiledGraph is an immutable, runnable graph. It is safe for
// concurrent use: each Run works on its own clone of the session.
type CompiledGraph struct {
	name     string
	entry    string
	nodes    map[string]NodeFunc
	edges    map[string]string
	routers  map[string]*conditionalEdge
	maxSteps int
	logger   Logger
}

// Name returns the graph name.
func (g *CompiledGraph) Name() string { return g.name }

// Run executes the graph from its entry node and returns the combined
// update of all executed nodes. The caller's session is never mutated;
// applying the returned update once yields the post-run state.
func (g *CompiledGraph) Run(ctx context.Context, s *state.Session) (*state.Update, error) {
	ctx, span := tracer.Start(ctx, "graph.run")
	span.SetAttributes(
		attribute.String("graph.name", g.name),
		attribute.String("session.id", s.SessionID),
	)
	defer span.End()

	started := time.Now()
	work := s.Clone()
	combined := &state.Update{}

	current := g.entry
	steps := 0
	for current != End {
		if err := ctx.Err(); err != nil {
			g.record(span, started, "error", err)
			return combined, err
		}
		steps++
		if steps > g.maxSteps {
			err := fmt.Errorf("%w: graph %q after %d steps", ErrStepLimit, g.name, g.maxSteps)
			g.record(span, started, "step_limit", err)
			return combined, err
		}

		update, err := g.runNode(ctx, current, work)
		if err != nil {
			g.record(span, started, "error", err)
			return combined, fmt.Errorf("node %q: %w", current, err)
		}
		if update != nil {
			work.Apply(update)
			combined.Merge(update)
		}

		next, err := g.next(current, work)
		if err != nil {
			g.record(span, started, "error", err)
			return combined, err
		}
		if g.logger != nil {
			g.logger.Debug("graph_transition",
				"graph", g.name, "from", current, "to", next, "step", steps)
		}
		current = next
	}

	g.record(span, started, "success", nil)
	return combined, nil
}

// Node returns the graph as a node function for embedding in a parent
// graph. The parent applies the child's combined update exactly once.
func (g *CompiledGraph) Node() NodeFunc {
	return g.Run
}

func (g *CompiledGraph) runNode(ctx context.Context, name string, work *state.Session) (*state.Update, error) {
	fn := g.nodes[name]
	nodeCtx, nodeSpan := tracer.Start(ctx, "graph.node")
	nodeSpan.SetAttributes(
		attribute.String("graph.name", g.name),
		attribute.String("node.name", name),
	)
	defer nodeSpan.End()

	nodeStart := time.Now()
	update, err := fn(nodeCtx, work)
	durMS := int(time.Since(nodeStart).Milliseconds())
	if err != nil {
		nodeSpan.RecordError(err)
		nodeSpan.SetStatus(codes.Error, err.Error())
		observability.RecordNodeExecution(g.name, name, "error", durMS)
		return nil, err
	}
	observability.RecordNodeExecution(g.name, name, "success", durMS)
	return update, nil
}

// next resolves the node to execute after current. A router takes
// precedence; a missing edge means the run is complete.
func (g *CompiledGraph) next(current string, work *state.Session) (string, error) {
	if ce, ok := g.routers[current]; ok {
		key := ce.router(work)
		target, ok := ce.targets[key]
		if !ok {
			return "", fmt.Errorf("%w: router on %q returned unmapped key %q", ErrConfiguration, current, key)
		}
		return target, nil
	}
	if to, ok := g.edges[current]; ok {
		return to, nil
	}
	return End, nil
}

func (g *CompiledGraph) record(span trace.Span, started time.Time, status string, err error) {
	observability.RecordGraphRun(g.name, status, int(time.Since(started).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
