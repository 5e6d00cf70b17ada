// Package popup drives the opener side of a popup login: it opens the
// provider window, waits for the callback page to report back, and gives up
// quietly if the user closes the window.
package popup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deckauth/protocol"
)

// DefaultPollInterval is how often the popup is checked for a manual close.
const DefaultPollInterval = time.Second

const defaultLoginError = "authorization failed"

var (
	// ErrInProgress is returned when Login is called while a popup is open.
	ErrInProgress = errors.New("popup: login already in progress")
	// ErrNoOrigin is returned by Login when Config.Origin names no single
	// sender origin.
	ErrNoOrigin = errors.New("popup: sender origin not configured")
)

// State is the lifecycle position of a Transport.
type State int

const (
	Idle State = iota
	WaitingForPopup
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForPopup:
		return "waiting_for_popup"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Window is an open popup.
type Window interface {
	Closed() bool
	Close() error
}

// WindowOpener opens a popup pointed at url.
type WindowOpener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// Saver persists a successful login.
type Saver interface {
	Save(token string, profile protocol.Profile) error
}

// Callbacks are invoked at most once per login attempt.
type Callbacks struct {
	OnSuccess func(protocol.Profile)
	OnError   func(string)
}

// Config configures a Transport.
type Config struct {
	// AuthorizeURL is the exchange service entry that redirects to the provider.
	AuthorizeURL string
	// Origin is the only sender origin whose messages are accepted.
	Origin       string
	PollInterval time.Duration
}

// Transport coordinates one popup login at a time.
type Transport struct {
	cfg    Config
	opener WindowOpener
	bus    protocol.Bus
	saver  Saver
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	attempt *attempt
}

type attempt struct {
	window      Window
	callbacks   Callbacks
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// New constructs a Transport.
func New(cfg Config, opener WindowOpener, bus protocol.Bus, saver Saver, logger *slog.Logger) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, opener: opener, bus: bus, saver: saver, logger: logger}
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the current attempt reaches Completed or Cancelled.
// It returns nil before the first Login.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempt == nil {
		return nil
	}
	return t.attempt.done
}

// Login opens the popup and starts listening. Cancelling ctx abandons the
// attempt without invoking a callback.
func (t *Transport) Login(ctx context.Context, cb Callbacks) error {
	if t.cfg.Origin == "" || t.cfg.Origin == "*" {
		return ErrNoOrigin
	}

	t.mu.Lock()
	if t.state == WaitingForPopup {
		t.mu.Unlock()
		return ErrInProgress
	}

	window, err := t.opener.Open(ctx, t.cfg.AuthorizeURL)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("open popup: %w", err)
	}

	a := &attempt{
		window:    window,
		callbacks: cb,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.attempt = a
	t.state = WaitingForPopup
	a.unsubscribe = t.bus.Subscribe(func(env protocol.Envelope) {
		t.receive(a, env)
	})
	t.mu.Unlock()

	t.logger.Debug("popup.opened", "url", t.cfg.AuthorizeURL)
	go t.watch(ctx, a)
	return nil
}

func (t *Transport) watch(ctx context.Context, a *attempt) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			t.finish(a, Cancelled, nil)
			return
		case <-ticker.C:
			if a.window.Closed() {
				t.logger.Info("popup.closed_by_user")
				t.finish(a, Cancelled, nil)
				return
			}
		}
	}
}

func (t *Transport) receive(a *attempt, env protocol.Envelope) {
	if env.Origin != t.cfg.Origin {
		t.logger.Debug("popup.message_ignored", "reason", "origin", "origin", env.Origin)
		return
	}

	msg := env.Message
	switch msg.Type {
	case protocol.TypeLoginSuccess:
		if msg.Profile == nil || msg.Token == "" {
			t.finish(a, Completed, func(cb Callbacks) {
				notifyError(cb, "login response incomplete")
			})
			return
		}
		profile := *msg.Profile
		t.finish(a, Completed, func(cb Callbacks) {
			if err := t.saver.Save(msg.Token, profile); err != nil {
				t.logger.Error("popup.save_failed", "error", err)
				notifyError(cb, err.Error())
				return
			}
			if cb.OnSuccess != nil {
				cb.OnSuccess(profile)
			}
		})
	case protocol.TypeLoginError:
		reason := msg.Error
		if reason == "" {
			reason = defaultLoginError
		}
		t.finish(a, Completed, func(cb Callbacks) {
			notifyError(cb, reason)
		})
	default:
		t.logger.Debug("popup.message_ignored", "reason", "type", "type", msg.Type)
	}
}

// finish moves a from WaitingForPopup to state exactly once. Late messages
// and repeated close detections find the attempt already finished.
func (t *Transport) finish(a *attempt, state State, then func(Callbacks)) {
	t.mu.Lock()
	if t.attempt != a || t.state != WaitingForPopup {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()

	a.unsubscribe()
	close(a.stop)
	if !a.window.Closed() {
		if err := a.window.Close(); err != nil {
			t.logger.Debug("popup.close_failed", "error", err)
		}
	}
	if then != nil {
		then(a.callbacks)
	}
	t.logger.Info("popup.finished", "state", state.String())
	close(a.done)
}

func notifyError(cb Callbacks, reason string) {
	if cb.OnError != nil {
		cb.OnError(reason)
	}
}
