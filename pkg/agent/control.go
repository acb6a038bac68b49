package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Concurrent fetches during a prefetch.
const prefetchLimit = 4

// Command is a message on the agent's control channel.
type Command interface {
	command()
	Name() string
}

// SkipWaiting activates the agent immediately.
type SkipWaiting struct{}

// ClearAll deletes every cache namespace, including other versions.
type ClearAll struct{}

// ClearAPI deletes only the current API namespace.
type ClearAPI struct{}

// Prefetch fetches URLs into the API namespace.
type Prefetch struct {
	URLs []string
}

func (SkipWaiting) command() {}
func (ClearAll) command()    {}
func (ClearAPI) command()    {}
func (Prefetch) command()    {}

// Name implements Command.
func (SkipWaiting) Name() string { return "skip-waiting" }

// Name implements Command.
func (ClearAll) Name() string { return "clear-all" }

// Name implements Command.
func (ClearAPI) Name() string { return "clear-api" }

// Name implements Command.
func (Prefetch) Name() string { return "prefetch" }

// ParseCommand returns the command with the given name.
func ParseCommand(name string, urls []string) (Command, error) {
	switch name {
	case "skip-waiting":
		return SkipWaiting{}, nil
	case "clear-all":
		return ClearAll{}, nil
	case "clear-api":
		return ClearAPI{}, nil
	case "prefetch":
		return Prefetch{URLs: urls}, nil
	}
	return nil, fmt.Errorf("unknown agent command %q", name)
}

// Post queues a command without waiting for it.  No result is reported; effects are observed
// through later cache behavior.  Commands posted while the queue is full are dropped.
func (a *Agent) Post(cmd Command) {
	op := func(a *Agent) { a.handle(cmd) }
	select {
	case a.opChan <- op:
	default:
		a.logger.Warn().Str("command", cmd.Name()).Msg("Control queue full, command dropped")
	}
}

// Start processes control commands until ctx is canceled.
func (a *Agent) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.opChan:
			op(a)
		}
	}
}

// Sync blocks until the agent has processed its queue up to this point, useful for unit tests.
func (a *Agent) Sync() {
	done := make(chan struct{})
	a.opChan <- func(a *Agent) {
		close(done)
	}
	<-done
}

func (a *Agent) handle(cmd Command) {
	expCommands.Add(1)
	logger := a.logger.With().Str("command", cmd.Name()).Logger()
	var err error
	switch c := cmd.(type) {
	case SkipWaiting:
		err = a.Activate()
	case ClearAll:
		err = a.clearAll()
	case ClearAPI:
		err = a.storage.Delete(a.apiName())
	case Prefetch:
		err = a.prefetch(c.URLs)
	default:
		err = fmt.Errorf("unhandled command %T", cmd)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Command failed")
		return
	}
	logger.Debug().Msg("Command processed")
}

func (a *Agent) clearAll() error {
	names, err := a.storage.Keys()
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := a.storage.Delete(n); err != nil {
			return err
		}
	}
	return nil
}

// prefetch fetches every URL into the API namespace.  Individual failures are logged; the rest
// continue.
func (a *Agent) prefetch(urls []string) error {
	api := a.storage.Open(a.apiName())
	g := &errgroup.Group{}
	g.SetLimit(prefetchLimit)
	for _, ref := range urls {
		g.Go(func() error {
			req, err := a.newGet(context.Background(), ref)
			if err != nil {
				a.logger.Warn().Str("url", ref).Err(err).Msg("Prefetch skipped")
				return nil
			}
			resp, err := a.fetchAndPut(api, req)
			if err != nil {
				a.logger.Warn().Str("url", ref).Err(err).Msg("Prefetch failed")
				return nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				a.logger.Warn().Str("url", ref).Int("status", resp.StatusCode).Msg("Prefetch not cached")
			}
			return nil
		})
	}
	return g.Wait()
}
