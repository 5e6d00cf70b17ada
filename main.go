package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/acme/autocert"
	"gopkg.in/yaml.v3"

	"deckauth/server"
)

const defaultConfigFile = "./config.yaml"

type options struct {
	configPath string
	configCmd  string
	logLevel   slog.Level
	command    string
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("deckauth", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("DECKAUTH_CONFIG"), "Path to YAML config")
	configCmd := fs.String("config-cmd", "", "Config command: 'init' or 'validate'")
	level := fs.String("log-level", "info", "Logging level (debug, info, warn, error)")
	fs.StringVar(level, "l", "info", "Alias for -log-level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{configPath: *configPath, configCmd: *configCmd}
	lvl, err := parseLogLevel(*level)
	if err != nil {
		return options{}, fmt.Errorf("invalid log level %q: %w", *level, err)
	}
	opts.logLevel = lvl

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "connect" {
		opts.command = "connect"
		rest = rest[1:]
	}
	if opts.configPath == "" && len(rest) > 0 {
		opts.configPath = rest[0]
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: opts.logLevel}))

	switch opts.configCmd {
	case "":
	case "init":
		path := orDefault(opts.configPath)
		if err := runConfigInit(path, os.Stdin, os.Stdout, logger); err != nil {
			log.Fatalf("config init failed: %v", err)
		}
		logger.Info("configuration initialized successfully", "path", path)
		return
	case "validate":
		path := orDefault(opts.configPath)
		if err := runConfigValidate(path, logger); err != nil {
			log.Fatalf("config validation failed: %v", err)
		}
		logger.Info("configuration is valid", "path", path)
		return
	default:
		log.Fatalf("unknown config command %q. Use 'init' or 'validate'", opts.configCmd)
	}

	cfg, err := loadConfig(opts.configPath, logger)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if opts.command == "connect" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runConnect(ctx, cfg, logger, nil, nil); err != nil {
			logger.Error("provider connectivity failed", "provider", cfg.Provider.Name, "error", err)
			os.Exit(1)
		}
		logger.Info("provider connectivity succeeded", "provider", cfg.Provider.Name)
		return
	}

	if err := serve(cfg, logger); err != nil {
		log.Fatal(err)
	}
}

func orDefault(path string) string {
	if path == "" {
		return defaultConfigFile
	}
	return path
}

// serve runs the service until SIGINT or SIGTERM.
func serve(cfg server.Config, logger *slog.Logger) error {
	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	validateStartupURLs(checkCtx, cfg, logger)
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close app", "error", err)
		}
	}()

	listeners := buildListeners(cfg, application.Routes())
	for _, l := range listeners {
		logger.Info("server listening", "name", l.name, "addr", l.srv.Addr, "provider", cfg.Provider.Name)
		go func(l listener) {
			var err error
			if l.srv.TLSConfig != nil {
				err = l.srv.ListenAndServeTLS("", "")
			} else {
				err = l.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("listener failed", "name", l.name, "error", err)
			}
		}(l)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	for _, l := range listeners {
		_ = l.srv.Shutdown(shutdownCtx)
	}
	return nil
}

type listener struct {
	name string
	srv  *http.Server
}

// buildListeners returns the plain dev listener, or in production an HTTPS
// listener with autocert certificates plus the HTTP listener that answers
// ACME challenges and redirects everything else.
func buildListeners(cfg server.Config, handler http.Handler) []listener {
	if cfg.Server.DevMode {
		return []listener{{name: "dev", srv: &http.Server{
			Addr:         cfg.Server.DevListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}}}
	}

	m := &autocert.Manager{
		Cache:      autocert.DirCache(filepath.Join(cfg.Server.SecretsPath, "tls")),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
		Email:      cfg.Server.TLS.Email,
	}
	return []listener{
		{name: "https", srv: &http.Server{
			Addr:    cfg.Server.HTTPSListenAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tlsMinVersion(cfg.Server.TLS.MinVersion),
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}},
		{name: "http-redirect", srv: &http.Server{
			Addr:        cfg.Server.HTTPListenAddr,
			Handler:     m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadTimeout: 15 * time.Second,
		}},
	}
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
}

func tlsMinVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// runConnect follows the provider's authorize URL and reports whether the
// login page is reachable. It never completes a login.
func runConnect(ctx context.Context, cfg server.Config, logger *slog.Logger, provider server.IdentityProvider, httpClient *http.Client) error {
	if !cfg.ProviderConfigured() {
		return fmt.Errorf("provider %s has no credentials; set VK_APP_ID, VK_APP_SECRET and VK_REDIRECT_URI", cfg.Provider.Name)
	}
	client := httpClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if provider == nil {
		provider = server.BuildProvider(cfg, client, logger)
	}

	authURL := provider.AuthCodeURL(ulid.Make().String())
	logger.Info("connect.start", "provider", provider.Name(), "auth_url", authURL)

	hops := 0
	follower := *client
	follower.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		hops = len(via)
		logger.Info("connect.redirect", "step", hops, "url", req.URL.String())
		if hops >= 10 {
			return fmt.Errorf("too many redirects (%d)", hops)
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return fmt.Errorf("create authorize request: %w", err)
	}
	resp, err := follower.Do(req)
	if err != nil {
		return fmt.Errorf("call authorize endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	final := resp.Request.URL.String()
	logger.Info("connect.result", "status", resp.StatusCode, "redirects", hops, "effective_url", final)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %s for %s", resp.Status, final)
	}
	logger.Info("connect.success", "provider", provider.Name(), "message", "open auth_url in a browser to sign in interactively", "auth_url", authURL)
	return nil
}

func loadConfig(path string, logger *slog.Logger) (server.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			logger.Info("no config file; using defaults and environment")
			return server.LoadConfig("")
		}
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return server.Config{}, fmt.Errorf("config file not found at %s. Run with -config-cmd=init to create it", path)
	}
	logger.Debug("loading config", "path", path)
	return server.LoadConfig(path)
}

func runConfigValidate(path string, logger *slog.Logger) error {
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}
	if !cfg.ProviderConfigured() {
		logger.Warn("provider credentials missing", "provider", cfg.Provider.Name, "env", []string{"VK_APP_ID", "VK_APP_SECRET", "VK_REDIRECT_URI"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, u := range providerEndpoints(cfg) {
		if err := validateURL(ctx, u); err != nil {
			logger.Error("provider URL validation failed", "provider", cfg.Provider.Name, "url", u, "error", err)
			continue
		}
		logger.Info("provider URL is accessible", "provider", cfg.Provider.Name, "url", u)
	}
	return nil
}

// providerEndpoints lists the upstream hosts the exchange depends on. The
// dev provider has none.
func providerEndpoints(cfg server.Config) []string {
	if cfg.Provider.Name != server.DefaultProviderName {
		return nil
	}
	return []string{cfg.Provider.AuthURL, cfg.Provider.TokenURL}
}

func validateStartupURLs(ctx context.Context, cfg server.Config, logger *slog.Logger) {
	for _, u := range providerEndpoints(cfg) {
		if err := validateURL(ctx, u); err != nil {
			logger.Warn("provider URL may not be accessible", "provider", cfg.Provider.Name, "url", u, "error", err)
		}
	}
}

// validateURL only checks that the host answers. Client error statuses are
// fine: the token endpoint rejects a bare request.
func validateURL(ctx context.Context, urlStr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func runConfigInit(path string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	p := &prompter{in: bufio.NewReader(in), out: out}
	cfg := setupConfig(p)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := writeConfigFile(path, cfg); err != nil {
		return err
	}
	logger.Info("configuration created", "path", path)
	return nil
}

// setupConfig asks for the values a VK deployment needs. Credentials may be
// left empty and supplied through the environment instead.
func setupConfig(p *prompter) server.Config {
	cfg := server.DefaultConfig()
	fmt.Fprintln(p.out, "Guided setup for VK sign-in. Press Enter to accept defaults.")

	cfg.Server.DevMode = p.confirm("Run in development mode?", true)
	if cfg.Server.DevMode {
		cfg.Server.PublicURL = strings.TrimSuffix(p.text("Public URL", cfg.Server.PublicURL), "/")
		cfg.Server.DevListenAddr = p.text("Dev listen address", cfg.Server.DevListenAddr)
	} else {
		domain := strings.TrimSuffix(p.text("Public domain (e.g. auth.example.com)", ""), "/")
		cfg.Server.TLS.Domains = []string{domain}
		cfg.Server.PublicURL = "https://" + domain
		cfg.Server.TLS.Email = p.text("ACME contact email", cfg.Server.TLS.Email)
	}

	fmt.Fprintln(p.out, "Leave the VK credentials empty to use VK_APP_ID, VK_APP_SECRET and VK_REDIRECT_URI.")
	cfg.Provider.ClientID = p.text("VK app ID", "")
	cfg.Provider.ClientSecret = p.text("VK app secret", "")
	cfg.Provider.RedirectURI = p.text("VK redirect URI", cfg.Server.PublicURL+"/")

	cfg.Server.AppOrigin = strings.TrimSuffix(p.text("Web app origin", cfg.Server.AppOrigin), "/")
	cfg.Server.CORS.AllowedOrigins = []string{cfg.Server.AppOrigin}
	cfg.Server.ResponseMode = p.text("Response mode (json or html)", cfg.Server.ResponseMode)
	return cfg
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) text(prompt, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}
	line, _ := p.in.ReadString('\n')
	if v := strings.TrimSpace(line); v != "" {
		return v
	}
	return def
}

func (p *prompter) confirm(prompt string, def bool) bool {
	label := "y/N"
	if def {
		label = "Y/n"
	}
	switch strings.ToLower(p.text(prompt+" ("+label+")", "")) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
	"err":     slog.LevelError,
}

func parseLogLevel(value string) (slog.Level, error) {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return 0, errors.New("unknown log level")
	}
	return lvl, nil
}

func writeConfigFile(path string, cfg server.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
