package engine

import (
	"context"

	"github.com/weave-sync/weave/internal/werr"
)

// Shutdown drains pending flushes, stops the elector and remote,
// unsubscribes from the broadcast channel, and releases the store
// handle. After Shutdown, UpdateDoc, UpdatePresence and GetCommitDoc
// fail with a werr.Shutdown error; the Subscribe* methods and
// IsRemoteLeader do not check for shutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	var flushErr error
	e.shutdownOnce.Do(func() {
		e.flush(ctx) // drain any pending buffer synchronously before closing

		if e.elector != nil {
			e.elector.Shutdown()
		}
		e.stopRemote()

		close(e.shutdownDone)
		e.bcSub.Unsubscribe()
		e.presenceMux.Shutdown()

		flushErr = e.st.Shutdown(ctx)
		e.loop.Shutdown()
	})
	if flushErr != nil {
		return flushErr
	}
	return nil
}

// shutdownGuard returns a werr.Shutdown error once the engine is
// closed; the public methods that fail fast after Shutdown call it
// first.
func (e *Engine) shutdownGuard() error {
	select {
	case <-e.shutdownDone:
		return werr.New(werr.Shutdown, "engine is shut down", nil)
	default:
		return nil
	}
}
