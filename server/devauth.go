package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"

	"deckauth/protocol"
)

const (
	devProviderName = "dev"
	devCodePrefix   = "dev-"
)

// DevProvider is a stand-in consent screen served by this process. It lets
// the whole popup flow run locally without provider credentials.
type DevProvider struct {
	authorizeURL string
	redirectURI  string
	profile      protocol.Profile
}

// NewDevProvider redirects back to provider.redirect_uri, or to the exchange
// endpoint itself when none is configured.
func NewDevProvider(cfg Config) *DevProvider {
	base := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	redirect := cfg.Provider.RedirectURI
	if redirect == "" {
		redirect = base + "/"
	}
	return &DevProvider{
		authorizeURL: base + "/dev/authorize",
		redirectURI:  redirect,
		profile: protocol.Profile{
			ID:         1,
			Name:       "Dev User",
			ScreenName: "dev",
			Email:      "dev@localhost",
		},
	}
}

// Name implements IdentityProvider.
func (p *DevProvider) Name() string { return devProviderName }

// AuthCodeURL implements IdentityProvider.
func (p *DevProvider) AuthCodeURL(state string) string {
	if state == "" {
		return p.authorizeURL
	}
	return p.authorizeURL + "?" + url.Values{"state": {state}}.Encode()
}

// Exchange accepts any code minted by the consent page.
func (p *DevProvider) Exchange(ctx context.Context, code string) (protocol.Profile, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Profile{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if !strings.HasPrefix(code, devCodePrefix) {
		return protocol.Profile{}, fmt.Errorf("%w: unknown dev code", ErrTokenExchange)
	}
	return p.profile, nil
}

func (p *DevProvider) callbackURL(params url.Values) string {
	sep := "?"
	if strings.Contains(p.redirectURI, "?") {
		sep = "&"
	}
	return p.redirectURI + sep + params.Encode()
}

type devConsentView struct {
	Profile  protocol.Profile
	AllowURL string
	DenyURL  string
}

var devConsentTemplate = template.Must(template.New("devConsent").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Dev sign-in</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem auto; max-width: 420px; color: #1d1d1f; }
a.button { display: inline-block; padding: 0.6rem 1.2rem; margin-right: 0.5rem; border: 1px solid #1976d2; border-radius: 6px; text-decoration: none; }
.notice { color: #555; }
</style>
</head>
<body>
<h1>Development sign-in</h1>
<p class="notice">Available only in development mode. No provider is contacted.</p>
<p>Continue as <strong>{{.Profile.Name}}</strong> (id {{.Profile.ID}})?</p>
<p>
  <a class="button" id="allow" href="{{.AllowURL}}">Allow</a>
  <a class="button" id="deny" href="{{.DenyURL}}">Deny</a>
</p>
</body>
</html>
`))

func (a *App) handleDevAuthorize(w http.ResponseWriter, r *http.Request) {
	dev, ok := a.Provider.(*DevProvider)
	if !ok || !a.Config.Server.DevMode {
		http.NotFound(w, r)
		return
	}

	state := r.URL.Query().Get("state")
	allow := url.Values{"code": {devCodePrefix + ulid.Make().String()}}
	deny := url.Values{"error": {"access_denied"}}
	if state != "" {
		allow.Set("state", state)
		deny.Set("state", state)
	}

	view := devConsentView{
		Profile:  dev.profile,
		AllowURL: dev.callbackURL(allow),
		DenyURL:  dev.callbackURL(deny),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := devConsentTemplate.Execute(w, view); err != nil {
		a.Logger.Error("dev consent render", "error", err)
	}
}
