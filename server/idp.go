package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"deckauth/protocol"
)

const maxProviderBody = 1 << 20

// IdentityProvider represents the minimal behaviour required from an upstream IdP.
type IdentityProvider interface {
	Name() string
	// AuthCodeURL is the consent page the popup is sent to.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the user's profile. Errors
	// wrap ErrTokenExchange or ErrProfileFetch.
	Exchange(ctx context.Context, code string) (protocol.Profile, error)
}

// VKProvider performs the VK authorization code flow.
type VKProvider struct {
	oauthConfig *oauth2.Config
	apiURL      string
	apiVersion  string
	timeout     time.Duration
	client      *http.Client
	logger      *slog.Logger
}

// NewVKProvider builds the provider from configuration. client may be nil.
func NewVKProvider(cfg ProviderConfig, client *http.Client, logger *slog.Logger) *VKProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &VKProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		apiVersion: cfg.APIVersion,
		timeout:    cfg.Timeout,
		client:     client,
		logger:     logger,
	}
}

// Name implements IdentityProvider.
func (p *VKProvider) Name() string { return "vk" }

// AuthCodeURL constructs the popup-style authorization request.
func (p *VKProvider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state,
		oauth2.SetAuthURLParam("display", "popup"),
		oauth2.SetAuthURLParam("v", p.apiVersion),
	)
}

// Exchange completes the code exchange and then fetches the profile. The
// profile endpoint is only called once an access token is in hand.
func (p *VKProvider) Exchange(ctx context.Context, code string) (protocol.Profile, error) {
	tok, err := p.exchangeCode(ctx, code)
	if err != nil {
		return protocol.Profile{}, err
	}

	profile, err := p.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return protocol.Profile{}, err
	}
	if email, ok := tok.Extra("email").(string); ok {
		profile.Email = email
	}
	return profile, nil
}

func (p *VKProvider) exchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response without access_token", ErrTokenExchange)
	}
	return tok, nil
}

type vkUser struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Photo100   string `json:"photo_100"`
	ScreenName string `json:"screen_name"`
}

type vkUsersResponse struct {
	Response []vkUser `json:"response"`
	Error    *struct {
		Code    int    `json:"error_code"`
		Message string `json:"error_msg"`
	} `json:"error"`
}

func (p *VKProvider) fetchProfile(ctx context.Context, accessToken string) (protocol.Profile, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	q := url.Values{}
	q.Set("access_token", accessToken)
	q.Set("fields", "photo_100,screen_name")
	q.Set("v", p.apiVersion)
	endpoint := p.apiURL + "/users.get?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return protocol.Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, redactToken(err, accessToken))
	}
	defer resp.Body.Close()

	var body vkUsersResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&body); err != nil {
		return protocol.Profile{}, fmt.Errorf("%w: decode users.get (%s): %v", ErrProfileFetch, resp.Status, err)
	}
	if body.Error != nil {
		return protocol.Profile{}, fmt.Errorf("%w: users.get error %d: %s", ErrProfileFetch, body.Error.Code, body.Error.Message)
	}
	if len(body.Response) == 0 {
		return protocol.Profile{}, fmt.Errorf("%w: users.get returned no user", ErrProfileFetch)
	}

	u := body.Response[0]
	return protocol.Profile{
		ID:         u.ID,
		Name:       strings.TrimSpace(u.FirstName + " " + u.LastName),
		Avatar:     u.Photo100,
		ScreenName: u.ScreenName,
	}, nil
}

func (p *VKProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// redactToken keeps the access token out of logged URL errors.
func redactToken(err error, token string) error {
	var uerr *url.Error
	if token == "" || !errors.As(err, &uerr) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(token), "REDACTED"))
}

// BuildProvider prepares the configured upstream provider.
func BuildProvider(cfg Config, client *http.Client, logger *slog.Logger) IdentityProvider {
	if cfg.Provider.Name == devProviderName {
		return NewDevProvider(cfg)
	}
	return NewVKProvider(cfg.Provider, client, logger)
}
