package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"deckauth/token"
)

const signingKeyFile = "session.key"

// BuildCodec selects the session token codec. A configured signing key, or
// session.signed with a key kept under secrets_path, yields HS256 tokens;
// otherwise tokens are plain base64 JSON.
func BuildCodec(cfg Config, logger *slog.Logger) (token.Codec, error) {
	key := []byte(cfg.Session.SigningKey)
	if len(key) == 0 && cfg.Session.Signed {
		var err error
		key, err = loadOrCreateSigningKey(filepath.Join(cfg.Server.SecretsPath, signingKeyFile), logger)
		if err != nil {
			return nil, err
		}
	}
	if len(key) == 0 {
		logger.Warn("session tokens are unsigned", "hint", "set session.signed or session.signing_key")
		return token.Base64Codec{}, nil
	}
	codec, err := token.NewSignedCodec(key, cfg.Session.Issuer)
	if err != nil {
		return nil, err
	}
	return codec, nil
}

func loadOrCreateSigningKey(path string, logger *slog.Logger) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(payload)))
		if err != nil {
			return nil, fmt.Errorf("decode signing key %s: %w", path, err)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	logger.Info("generated session signing key", "path", path)
	return key, nil
}
