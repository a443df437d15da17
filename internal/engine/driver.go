package engine

import (
	"context"
	"time"

	"github.com/antorsae/ecasound/internal/errors"
)

// commandPollInterval bounds how long wait_for_commands blocks per sweep;
// it is the only point where the driver loop may suspend.
const commandPollInterval = 50 * time.Millisecond

// Driver abstracts the outer loop so alternative embeddings (e.g.
// host-callback drivers) are possible without touching the engine.
type Driver interface {
	Exec(ctx context.Context, e *Engine, cs interface{}) error
	Start() error
	Stop() error
	Exit()
}

// DefaultDriver runs the engine's own poll-driven outer loop. It is the driver New() selects when none is supplied.
type DefaultDriver struct {
	exitRequested bool
}

var _ Driver = (*DefaultDriver)(nil)

// Start is a no-op for DefaultDriver: transport start/stop is entirely
// command-queue driven. It exists to satisfy the Driver interface for
// embeddings that do call into it directly.
func (d *DefaultDriver) Start() error { return nil }

// Stop is a no-op for the same reason as Start.
func (d *DefaultDriver) Stop() error { return nil }

// Exit requests that Exec break out of its loop after the current pass.
func (d *DefaultDriver) Exit() { d.exitRequested = true }

// Exec runs the default outer loop verbatim:
//
//	init_engine_state()
//	loop:
//	  check_command_queue()
//	  if exit_requested: break
//	  if status == running: engine_iteration()
//	  else:
//	    if status in {finished, error} and batch_mode: break
//	    wait_for_commands()
//	  update_engine_state()
func (d *DefaultDriver) Exec(ctx context.Context, e *Engine, _ interface{}) error {
	e.initEngineState()

	for {
		if err := ctx.Err(); err != nil {
			if e.IsRunning() {
				_ = e.StopOperation()
			}
			return nil
		}
		if d.checkCommandQueue(ctx, e); d.exitRequested {
			return nil
		}

		switch e.Status() {
		case StatusRunning:
			e.EngineIteration()
		default:
			s := e.Status()
			if (s == StatusFinished || s == StatusError) && e.BatchMode() {
				return nil
			}
			e.queue.Poll(commandPollInterval)
		}

		e.UpdateEngineState()
	}
}

// checkCommandQueue drains the command queue and acts on the accumulated
// transport request. Prepare/start/stop_operation preconditions are
// enforced by the engine itself; a failed prepare is logged and marks the
// engine errored (StatusError), and a failed start is logged and leaves
// the engine not running; neither aborts the loop.
// The loop itself only aborts on genuine protocol violations raised as
// panics; runtime prepare failures are SetupErrors, logged and left for
// the caller to observe via status.
func (d *DefaultDriver) checkCommandQueue(ctx context.Context, e *Engine) {
	req := e.InterpretQueue(ctx)

	if req.Exit {
		d.exitRequested = true
		return
	}
	if req.Stop && e.IsRunning() {
		if err := e.StopOperation(); err != nil {
			e.logger.Error("stop_operation failed", "component", ComponentEngine, "error", err)
		}
	}
	if req.Start && !e.IsRunning() {
		if !e.IsPrepared() {
			if err := e.PrepareOperation(ctx); err != nil {
				e.logger.Error("prepare_operation failed", "component", ComponentEngine, "error", err)
				e.errored.Store(true)
				e.setStatus(StatusError)
				return
			}
		}
		if err := e.StartOperation(); err != nil {
			e.logger.Error("start_operation failed", "component", ComponentEngine, "error", err)
		}
	}
}

// requireDriver is a defensive check used by Engine.Exec before handing
// off to an embedder-supplied driver; a nil driver is a construction-time
// ProtocolViolation.
func requireDriver(d Driver) error {
	if d == nil {
		return errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryProtocol).
			Context("operation", "exec").
			Context("reason", "no driver configured").
			Build()
	}
	return nil
}
