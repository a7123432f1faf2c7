package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/wonder/internal/commander"
	"github.com/stupiduntilnot/wonder/internal/control"
	"github.com/stupiduntilnot/wonder/internal/db"
)

// pollErrorClass is the circuit breaker class for transport polling errors.
const pollErrorClass = "command_source_api"

// Handler processes one inbound update.
type Handler interface {
	Handle(ctx context.Context, u cmdpkg.Update) error
}

// Runner long-polls the commander and hands every update to the Handler in
// its own goroutine, at most MaxConcurrent at a time.
type Runner struct {
	Commander     cmdpkg.Commander
	Handler       Handler
	Circuit       *control.CircuitBreaker
	Events        *db.Recorder
	Logger        *slog.Logger
	PollTimeout   int
	Sleep         time.Duration
	MaxConcurrent int
	Offset        int64
	ParentEventID int64
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Handler errors and panics are logged and never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	circuit := r.Circuit
	if circuit == nil {
		circuit = control.NewCircuitBreaker(5, 30*time.Second)
	}
	limit := r.MaxConcurrent
	if limit <= 0 {
		limit = control.DefaultPolicy().MaxConcurrent
	}
	sleep := r.Sleep
	if sleep <= 0 {
		sleep = time.Second
	}

	var g errgroup.Group
	g.SetLimit(limit)
	// Handlers finish their reply even while the poll loop shuts down.
	handlerCtx := context.WithoutCancel(ctx)

	offset := r.Offset
	failures := 0
	for ctx.Err() == nil {
		prevState := circuit.State()
		if !circuit.Allow(time.Now()) {
			sleepCtx(ctx, sleep)
			continue
		}
		if prevState == control.CircuitOpen && circuit.State() == control.CircuitHalfOpen {
			r.Events.Log(r.ParentEventID, db.EventCircuitHalfOpen, map[string]any{
				"error_class": circuit.OpenedClass(),
			})
		}

		updates, err := r.Commander.GetUpdates(ctx, offset, r.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			logger.Warn("getUpdates failed", "error", err, "consecutive_failures", failures)
			if circuit.RecordFailure(pollErrorClass, time.Now()) {
				r.Events.Log(r.ParentEventID, db.EventCircuitOpened, map[string]any{
					"error_class":      pollErrorClass,
					"threshold":        circuit.Threshold,
					"cooldown_seconds": int(circuit.Cooldown.Seconds()),
				})
			}
			backoff := time.Duration(control.RetryBackoffSeconds(failures)) * time.Second
			if backoff < sleep {
				backoff = sleep
			}
			sleepCtx(ctx, backoff)
			continue
		}
		failures = 0
		if circuit.RecordSuccess() {
			r.Events.Log(r.ParentEventID, db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		if len(updates) == 0 {
			sleepCtx(ctx, sleep)
			continue
		}
		for _, u := range updates {
			u := u
			offset = u.UpdateID + 1
			g.Go(func() error {
				r.handle(handlerCtx, logger, u)
				return nil
			})
		}
	}

	return g.Wait()
}

func (r *Runner) handle(ctx context.Context, logger *slog.Logger, u cmdpkg.Update) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("handler panicked", "update_id", u.UpdateID, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			r.Events.Log(r.ParentEventID, db.EventHandlerPanicked, map[string]any{
				"update_id": u.UpdateID,
				"panic":     truncate(fmt.Sprint(p), 500),
			})
		}
	}()
	if err := r.Handler.Handle(ctx, u); err != nil {
		logger.Error("update handling failed", "update_id", u.UpdateID, "error", err)
	}
}

// BootstrapOffset picks the first offset to poll from when nothing has been
// recorded yet. Updates older than windowSeconds are skipped; if none are
// recent, polling starts after the newest one.
func BootstrapOffset(ctx context.Context, commander cmdpkg.Commander, windowSeconds int64, now time.Time) (int64, error) {
	updates, err := commander.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	cutoff := now.Unix() - windowSeconds
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			return u.UpdateID, nil
		}
	}
	return updates[len(updates)-1].UpdateID + 1, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
