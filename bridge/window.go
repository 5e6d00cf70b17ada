package bridge

import (
	"context"
	"errors"
	"sync"

	"deckauth/popup"
	"deckauth/protocol"
)

// ErrNoOpener is returned when the popup has no opener to post to.
var ErrNoOpener = errors.New("bridge: popup has no opener")

// Window is an in-process popup: messages posted from it are delivered on a
// bus stamped with its origin, and it satisfies both popup.Window and Popup.
// Navigate records the destination and, when OnNavigate is set, calls it.
type Window struct {
	Origin     string
	Bus        protocol.Bus
	OnNavigate func(url string)

	mu      sync.Mutex
	closed  bool
	visited []string
}

// PostToOpener implements Popup.
func (w *Window) PostToOpener(msg protocol.Message) error {
	if w.Bus == nil {
		return ErrNoOpener
	}
	w.Bus.Post(protocol.Envelope{Origin: w.Origin, Message: msg})
	return nil
}

// Close implements Popup and popup.Window.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Closed implements popup.Window.
func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Navigate implements Popup.
func (w *Window) Navigate(url string) error {
	w.mu.Lock()
	w.visited = append(w.visited, url)
	fn := w.OnNavigate
	w.mu.Unlock()
	if fn != nil {
		fn(url)
	}
	return nil
}

// Visited returns the URLs navigated to, oldest first.
func (w *Window) Visited() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.visited...)
}

// Opener opens Windows on a shared bus. Opened receives every new window so
// a driver can play the part of the provider.
type Opener struct {
	Origin string
	Bus    protocol.Bus
	Opened func(w *Window, url string)
}

// Open implements popup.WindowOpener.
func (o *Opener) Open(ctx context.Context, url string) (popup.Window, error) {
	w := &Window{Origin: o.Origin, Bus: o.Bus}
	if err := w.Navigate(url); err != nil {
		return nil, err
	}
	if o.Opened != nil {
		go o.Opened(w, url)
	}
	return w, nil
}
