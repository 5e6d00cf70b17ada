// Package protocol holds the types exchanged between the exchange service,
// the callback page running in the login popup, and the page that opened it.
package protocol

import "sync"

// Message types posted from the popup to its opener.
const (
	TypeLoginSuccess = "LOGIN_SUCCESS"
	TypeLoginError   = "LOGIN_ERROR"
)

// Profile is the identity returned by the upstream provider.
type Profile struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Message is the cross-window payload.
type Message struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// LoginSuccess builds a LOGIN_SUCCESS message.
func LoginSuccess(token string, profile Profile) Message {
	return Message{Type: TypeLoginSuccess, Token: token, Profile: &profile}
}

// LoginError builds a LOGIN_ERROR message.
func LoginError(reason string) Message {
	return Message{Type: TypeLoginError, Error: reason}
}

// Envelope carries a message together with the origin of its sender.
type Envelope struct {
	Origin  string
	Message Message
}

// Result is the JSON body of the exchange endpoint.
type Result struct {
	Success bool     `json:"success"`
	Token   string   `json:"token,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
	Error   string   `json:"error,omitempty"`
	Details string   `json:"details,omitempty"`
}

// Bus is the window-messaging primitive: one side posts, the other listens.
type Bus interface {
	Post(env Envelope)
	Subscribe(fn func(Envelope)) (unsubscribe func())
}

// LocalBus delivers envelopes synchronously to every current subscriber.
type LocalBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Envelope)
}

// NewLocalBus constructs an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]func(Envelope))}
}

// Post fans the envelope out to a snapshot of the subscribers.
func (b *LocalBus) Post(env Envelope) {
	b.mu.Lock()
	fns := make([]func(Envelope), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

// Subscribe registers fn. The returned function is safe to call repeatedly.
func (b *LocalBus) Subscribe(fn func(Envelope)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Subscribers reports how many listeners are registered.
func (b *LocalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
