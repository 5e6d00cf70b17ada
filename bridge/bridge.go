// Package bridge is the logic of the callback page that the provider
// redirects the popup to. It forwards the outcome to the opener and closes
// the popup.
package bridge

import (
	"context"
	"log/slog"
	"net/url"

	"deckauth/protocol"
)

const exchangeFailed = "Authorization failed"

// Popup is the window the bridge runs in.
type Popup interface {
	// PostToOpener delivers msg to the window that opened the popup.
	PostToOpener(msg protocol.Message) error
	Close() error
	Navigate(url string) error
}

// Exchanger trades a code for a result; client.Client satisfies it.
type Exchanger interface {
	AuthorizeURL() string
	Exchange(ctx context.Context, code, state string) (protocol.Result, error)
}

// Bridge handles one callback page load.
type Bridge struct {
	exchanger Exchanger
	logger    *slog.Logger
}

// New constructs a Bridge.
func New(exchanger Exchanger, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{exchanger: exchanger, logger: logger}
}

// Handle inspects the query the popup was loaded with. A provider error or a
// code ends with the popup closed; an empty query sends the popup on to the
// provider instead.
func (b *Bridge) Handle(ctx context.Context, query url.Values, popup Popup) error {
	if reason := query.Get("error"); reason != "" {
		defer b.close(popup)
		if desc := query.Get("error_description"); desc != "" {
			b.logger.Info("bridge.provider_error", "error", reason, "description", desc)
		}
		return b.post(popup, protocol.LoginError(reason))
	}

	code := query.Get("code")
	if code == "" {
		b.logger.Debug("bridge.redirect")
		return popup.Navigate(b.exchanger.AuthorizeURL())
	}

	defer b.close(popup)
	res, err := b.exchanger.Exchange(ctx, code, query.Get("state"))
	if err != nil {
		b.logger.Error("bridge.exchange_failed", "error", err)
		return b.post(popup, protocol.LoginError(exchangeFailed))
	}
	if !res.Success || res.Profile == nil || res.Token == "" {
		reason := res.Error
		if reason == "" {
			reason = exchangeFailed
		}
		return b.post(popup, protocol.LoginError(reason))
	}
	return b.post(popup, protocol.LoginSuccess(res.Token, *res.Profile))
}

func (b *Bridge) post(popup Popup, msg protocol.Message) error {
	if err := popup.PostToOpener(msg); err != nil {
		b.logger.Warn("bridge.post_failed", "type", msg.Type, "error", err)
		return err
	}
	b.logger.Info("bridge.posted", "type", msg.Type)
	return nil
}

func (b *Bridge) close(popup Popup) {
	if err := popup.Close(); err != nil {
		b.logger.Debug("bridge.close_failed", "error", err)
	}
}
