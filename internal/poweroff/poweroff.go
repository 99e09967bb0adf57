// Package poweroff requests an orderly system poweroff through systemd,
// logind or an external command.
package poweroff

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"cubeos-upsmon/internal/monitor"
)

const (
	MethodSystemd = "systemd"
	MethodLogind  = "logind"
	MethodExec    = "exec"
)

var (
	ErrInProgress    = errors.New("power action already in progress")
	ErrUnknownMethod = errors.New("unknown poweroff method")
)

// powerActionInProgress guards against double-invocation of poweroff across
// every method in the process.
var powerActionInProgress atomic.Bool

// guarded runs fn at most once at a time. The guard is released when fn
// fails so a later fault episode can retry.
func guarded(ctx context.Context, log zerolog.Logger, method string, fn func(context.Context) error) error {
	if !powerActionInProgress.CompareAndSwap(false, true) {
		log.Warn().Str("method", method).Msg("poweroff skipped, another power action in progress")
		return ErrInProgress
	}

	log.Warn().Str("method", method).Msg("requesting system poweroff")
	if err := fn(ctx); err != nil {
		powerActionInProgress.Store(false)
		return fmt.Errorf("%s poweroff: %w", method, err)
	}
	log.Info().Str("method", method).Msg("poweroff requested")
	return nil
}

// New returns the shutdown action for method. command is only used by the
// exec method; empty means the built-in nsenter/systemctl sequence.
func New(method string, command []string, log zerolog.Logger) (monitor.ShutdownAction, error) {
	switch method {
	case MethodSystemd:
		return NewSystemd(log), nil
	case MethodLogind:
		return NewLogind(log), nil
	case MethodExec:
		return NewExec(command, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
