package poweroff

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	logindBus      = "org.freedesktop.login1"
	logindPath     = "/org/freedesktop/login1"
	logindPowerOff = "org.freedesktop.login1.Manager.PowerOff"
)

type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Logind asks systemd-logind to power the machine off.
type Logind struct {
	log    zerolog.Logger
	object func() (busObject, error)
}

// NewLogind creates a Logind action on the shared system bus connection.
func NewLogind(log zerolog.Logger) *Logind {
	return &Logind{
		log: log.With().Str("component", "Poweroff").Logger(),
		object: func() (busObject, error) {
			// Shared connection; never closed.
			conn, err := dbus.SystemBus()
			if err != nil {
				return nil, err
			}
			return conn.Object(logindBus, dbus.ObjectPath(logindPath)), nil
		},
	}
}

// Trigger calls PowerOff without interactive authorization.
func (l *Logind) Trigger(ctx context.Context) error {
	return guarded(ctx, l.log, MethodLogind, func(ctx context.Context) error {
		obj, err := l.object()
		if err != nil {
			return fmt.Errorf("connect to system bus: %w", err)
		}
		if err := obj.CallWithContext(ctx, logindPowerOff, 0, false).Err; err != nil {
			return fmt.Errorf("call %s: %w", logindPowerOff, err)
		}
		return nil
	})
}
