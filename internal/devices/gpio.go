package devices

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"cubeos-upsmon/internal/monitor"
)

// DefaultPollInterval bounds how long an edge watcher blocks before checking
// whether it has been unsubscribed.
const DefaultPollInterval = 100 * time.Millisecond

var (
	ErrLineNotFound      = errors.New("gpio line not found")
	ErrLineConfig        = errors.New("gpio line configuration failed")
	ErrAlreadySubscribed = errors.New("gpio line already has an edge subscriber")
)

var initHost = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

func lookup(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrLineNotFound, name)
	}
	return p, nil
}

func levelName(level bool) string {
	if level {
		return "HIGH"
	}
	return "LOW"
}

// InputLine is an edge-capable GPIO input. Levels are physical.
type InputLine struct {
	name string
	pin  gpio.PinIO
	poll time.Duration
	log  zerolog.Logger

	mu  sync.Mutex
	sub *edgeSub
}

// OpenInput acquires a GPIO input by its periph name (e.g. "GPIO6").
func OpenInput(name string, pollInterval time.Duration, log zerolog.Logger) (*InputLine, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return newInputLine(name, p, pollInterval, log)
}

func newInputLine(name string, p gpio.PinIO, pollInterval time.Duration, log zerolog.Logger) (*InputLine, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: %s as input: %v", ErrLineConfig, name, err)
	}
	return &InputLine{
		name: name,
		pin:  p,
		poll: pollInterval,
		log:  log.With().Str("component", "GPIO").Str("line", name).Logger(),
	}, nil
}

// Name returns the line name.
func (l *InputLine) Name() string { return l.name }

// Level reads the current physical level.
func (l *InputLine) Level() (bool, error) {
	return bool(l.pin.Read()), nil
}

// Subscribe enables both-edge detection and delivers every edge to fn on a
// dedicated goroutine. A line has at most one subscriber.
func (l *InputLine) Subscribe(fn monitor.EdgeHandler) (monitor.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, l.name)
	}
	if err := l.pin.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("%w: %s edge detection: %v", ErrLineConfig, l.name, err)
	}

	s := &edgeSub{
		line: l,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.sub = s
	go l.watch(s, fn)
	return s, nil
}

func (l *InputLine) watch(s *edgeSub, fn monitor.EdgeHandler) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if !l.pin.WaitForEdge(l.poll) {
			continue
		}
		select {
		case <-s.stop:
			return
		default:
		}
		level := bool(l.pin.Read())
		l.log.Debug().Str("level", levelName(level)).Msg("edge")
		fn(level)
	}
}

type edgeSub struct {
	line *InputLine
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Unsubscribe stops edge delivery and waits for the watcher to exit. No
// handler call starts after it returns.
func (s *edgeSub) Unsubscribe() {
	s.once.Do(func() {
		l := s.line
		close(s.stop)
		// Halt unblocks a pending WaitForEdge on drivers that support it.
		_ = l.pin.Halt()
		<-s.done
		if err := l.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			l.log.Warn().Err(err).Msg("failed to disable edge detection")
		}

		l.mu.Lock()
		l.sub = nil
		l.mu.Unlock()
	})
}

// Close stops any active subscription and halts the pin.
func (l *InputLine) Close() error {
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if err := l.pin.Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", l.name, err)
	}
	return nil
}

// OutputLine is a GPIO output driven to physical levels.
type OutputLine struct {
	name string
	pin  gpio.PinIO
	log  zerolog.Logger
}

// OpenOutput acquires a GPIO output and drives it to initial.
func OpenOutput(name string, initial bool, log zerolog.Logger) (*OutputLine, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return newOutputLine(name, p, initial, log)
}

func newOutputLine(name string, p gpio.PinIO, initial bool, log zerolog.Logger) (*OutputLine, error) {
	if err := p.Out(gpio.Level(initial)); err != nil {
		return nil, fmt.Errorf("%w: %s as output: %v", ErrLineConfig, name, err)
	}
	return &OutputLine{
		name: name,
		pin:  p,
		log:  log.With().Str("component", "GPIO").Str("line", name).Logger(),
	}, nil
}

// Set drives the line to level.
func (o *OutputLine) Set(level bool) error {
	if err := o.pin.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("drive %s %s: %w", o.name, levelName(level), err)
	}
	o.log.Debug().Str("level", levelName(level)).Msg("output set")
	return nil
}

// Name returns the line name.
func (o *OutputLine) Name() string { return o.name }
