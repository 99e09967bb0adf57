package poweroff

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultExecTimeout = 30 * time.Second

// Runner executes one command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// Exec runs poweroff commands in order until one succeeds.
type Exec struct {
	log      zerolog.Logger
	commands [][]string
	run      Runner
}

// DefaultCommands enter the host mount namespace for systemctl, falling back
// to a forced poweroff.
func DefaultCommands() [][]string {
	return [][]string{
		{"nsenter", "-t", "1", "-m", "--", "systemctl", "poweroff"},
		{"poweroff", "-f"},
	}
}

// NewExec creates an Exec action. An empty command selects DefaultCommands.
func NewExec(command []string, log zerolog.Logger) *Exec {
	commands := DefaultCommands()
	if len(command) > 0 {
		commands = [][]string{command}
	}
	return &Exec{
		log:      log.With().Str("component", "Poweroff").Logger(),
		commands: commands,
		run:      execWithTimeout,
	}
}

// Trigger runs the configured commands.
func (e *Exec) Trigger(ctx context.Context) error {
	return guarded(ctx, e.log, MethodExec, func(ctx context.Context) error {
		var errs []error
		for _, c := range e.commands {
			out, err := e.run(ctx, c[0], c[1:]...)
			if err == nil {
				return nil
			}
			e.log.Error().Err(err).Str("command", strings.Join(c, " ")).Str("output", strings.TrimSpace(out)).Msg("poweroff command failed")
			errs = append(errs, fmt.Errorf("%s: %w", c[0], err))
		}
		return errors.Join(errs...)
	})
}

// execWithTimeout runs a command, applying defaultExecTimeout when ctx has
// no deadline of its own.
func execWithTimeout(ctx context.Context, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultExecTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("command timed out")
	}
	return string(out), err
}
