package registration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brbxai/recommand-peppol-sub001/internal/alert"
)

type step struct {
	name       string
	forward    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga runs steps in order. The first failing step stops the run and the
// completed steps are compensated in reverse order.
type saga struct {
	operation string
	steps     []step
	logger    *slog.Logger
	alerts    alert.Sink
	observer  Observer
}

func (s *Service) newSaga(operation string) *saga {
	return &saga{
		operation: operation,
		logger:    s.logger.With("operation", operation),
		alerts:    s.alerts,
		observer:  s.observer,
	}
}

// add appends a step. compensate may be nil.
func (g *saga) add(name string, forward, compensate func(ctx context.Context) error) {
	g.steps = append(g.steps, step{name: name, forward: forward, compensate: compensate})
}

func (g *saga) run(ctx context.Context) error {
	for i, st := range g.steps {
		if err := st.forward(ctx); err != nil {
			g.logger.WarnContext(ctx, "step failed, compensating",
				"step", st.name,
				"completed", i,
				"error", err,
			)
			g.compensate(ctx, g.steps[:i])
			return err
		}
		g.logger.DebugContext(ctx, "step completed", "step", st.name)
	}
	return nil
}

func (g *saga) compensate(ctx context.Context, done []step) {
	// compensation must finish even if the caller gave up
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.compensate == nil {
			continue
		}
		err := st.compensate(ctx)
		g.observer.ObserveCompensation(err)
		if err == nil {
			g.logger.InfoContext(ctx, "step compensated", "step", st.name)
			continue
		}
		g.logger.ErrorContext(ctx, "compensation failed, manual cleanup required",
			"step", st.name,
			"error", err,
		)
		g.alerts.Alert(ctx, alert.Stamp(alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    "Registration compensation failed",
			Message:  fmt.Sprintf("%s: undoing %q failed: %v", g.operation, st.name, err),
			Fields: map[string]string{
				"operation": g.operation,
				"step":      st.name,
			},
		}))
	}
}
