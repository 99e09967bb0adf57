package poweroff

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/rs/zerolog"
)

const poweroffTarget = "poweroff.target"

type unitStarter interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd starts poweroff.target through the systemd manager.
type Systemd struct {
	log     zerolog.Logger
	connect func(ctx context.Context) (unitStarter, error)
}

// NewSystemd creates a Systemd action on the system bus.
func NewSystemd(log zerolog.Logger) *Systemd {
	return &Systemd{
		log: log.With().Str("component", "Poweroff").Logger(),
		connect: func(ctx context.Context) (unitStarter, error) {
			conn, err := dbus.NewWithContext(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

// Trigger queues the poweroff job. The job cannot be cancelled once queued.
func (s *Systemd) Trigger(ctx context.Context) error {
	return guarded(ctx, s.log, MethodSystemd, func(ctx context.Context) error {
		conn, err := s.connect(ctx)
		if err != nil {
			return fmt.Errorf("connect to system manager: %w", err)
		}
		defer conn.Close()

		// The job completes when the host goes down, so there is no result to wait for.
		if _, err := conn.StartUnitContext(ctx, poweroffTarget, "replace-irreversibly", nil); err != nil {
			return fmt.Errorf("start %s: %w", poweroffTarget, err)
		}
		return nil
	})
}
