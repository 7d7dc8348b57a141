package replay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/flow"
	"github.com/aretw0/tendril/pkg/observe"
)

// ErrAborted reports that the script aborted the run on purpose. The end
// event is still delivered; open spans are the observer's problem, exactly
// as with a killed run.
var ErrAborted = errors.New("run aborted by script")

// Player emits a script's lifecycle events against a listener, usually the
// dispatcher. Parallel branches run on their own goroutines so the events
// interleave the way a real executor's would.
type Player struct {
	listener observe.Listener
	logger   *slog.Logger
	sleep    func(time.Duration)
	nextID   atomic.Int64
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithSleeper replaces the pause implementation. Tests pass a no-op to
// replay instantly.
func WithSleeper(sleep func(time.Duration)) PlayerOption {
	return func(p *Player) {
		p.sleep = sleep
	}
}

// NewPlayer creates a Player that delivers events to listener.
func NewPlayer(listener observe.Listener, opts ...PlayerOption) *Player {
	p := &Player{
		listener: listener,
		logger:   logging.NewNop(),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play replays the script from start to end event. It returns ErrAborted
// when a scripted abort cut the run short, or the context error when ctx is
// canceled mid-run; the pipeline end event is delivered in every case.
func (p *Player) Play(ctx context.Context, script *Script) error {
	if err := script.Validate(); err != nil {
		return err
	}
	run := &script.Run
	p.logger.Info("replaying run", "run_id", run.ID, "run_name", run.Name)

	p.listener.OnStartPipeline(ctx, p.node("Start of Pipeline", nil), run)

	err := p.playBody(ctx, script, run)

	p.listener.OnEndPipeline(ctx, p.node("End of Pipeline", nil), run)
	if err != nil {
		p.logger.Warn("run cut short", "run_id", run.ID, "reason", err)
	}
	return err
}

func (p *Player) playBody(ctx context.Context, script *Script, run *flow.Run) error {
	if script.Agent == "" {
		return p.playStages(ctx, script.Stages, run)
	}

	node := p.node("node", nil)
	p.listener.OnStartNodeStep(ctx, node, script.Agent, run)
	p.listener.OnAfterStartNodeStep(ctx, node, script.Agent, run)

	if err := p.playStages(ctx, script.Stages, run); err != nil {
		return err
	}

	p.listener.OnEndNodeStep(ctx, p.endNode(node), node.Name, run)
	return nil
}

func (p *Player) playStages(ctx context.Context, stages []Stage, run *flow.Run) error {
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.playStage(ctx, stage, run); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) playStage(ctx context.Context, stage Stage, run *flow.Run) error {
	node := p.node(stage.Name, nil)
	p.listener.OnStartStageStep(ctx, node, stage.Name, run)

	if err := p.playSteps(ctx, stage.Steps, run); err != nil {
		return err
	}

	if len(stage.Parallel) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, branch := range stage.Parallel {
			g.Go(func() error {
				return p.playBranch(gctx, branch, run)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	p.listener.OnEndStageStep(ctx, p.endNode(node), stage.Name, run)
	return nil
}

func (p *Player) playBranch(ctx context.Context, branch Branch, run *flow.Run) error {
	bctx := flow.WithBranch(ctx, branch.Name)
	node := p.node("Branch: "+branch.Name, nil)
	p.listener.OnStartParallelBranch(bctx, node, branch.Name, run)

	if err := p.playSteps(bctx, branch.Steps, run); err != nil {
		return err
	}
	if err := p.playStages(bctx, branch.Stages, run); err != nil {
		return err
	}

	p.listener.OnEndParallelBranch(bctx, p.endNode(node), branch.Name, run)
	return nil
}

func (p *Player) playSteps(ctx context.Context, steps []Step, run *flow.Run) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		node := p.node(step.Name, step.Args)
		p.listener.OnAtomicStep(ctx, node, run)
		if step.Pause > 0 {
			p.sleep(time.Duration(step.Pause))
		}
		if step.Abort {
			// The step never completes: no after event.
			return ErrAborted
		}
		p.listener.OnAfterAtomicStep(ctx, node, run)
	}
	return nil
}

func (p *Player) node(name string, args map[string]any) *flow.Node {
	return &flow.Node{
		ID:   strconv.FormatInt(p.nextID.Add(1), 10),
		Name: name,
		Args: args,
	}
}

func (p *Player) endNode(start *flow.Node) *flow.Node {
	node := p.node(start.Name, nil)
	node.StartID = start.ID
	return node
}
