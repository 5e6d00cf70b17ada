package session

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deckauth/protocol"
	"deckauth/token"
)

var (
	testNow     = time.UnixMilli(1_700_000_000_000)
	testProfile = protocol.Profile{ID: 42, Name: "A B", Avatar: "http://x/p.jpg", ScreenName: "ab"}
)

func newTestStore(t *testing.T, storage Storage) *Store {
	t.Helper()
	s := NewStore(storage, token.Base64Codec{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	return s
}

func mint(t *testing.T, expiresAt int64) string {
	t.Helper()
	tok, err := token.Base64Codec{}.Encode(token.ClaimsFor(testProfile, expiresAt))
	require.NoError(t, err)
	return tok
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage())
	require.False(t, s.Load().Authenticated())
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage())
	tok := mint(t, testNow.Add(time.Hour).UnixMilli())

	require.NoError(t, s.Save(tok, testProfile))

	state := s.Load()
	require.True(t, state.Authenticated())
	require.Equal(t, tok, state.Token)
	require.Equal(t, testProfile, *state.Profile)
	require.Equal(t, int64(42), state.Claims.ProviderID)
}

func TestLoadDiscardsInvalidState(t *testing.T) {
	valid := func(t *testing.T) string { return mint(t, testNow.Add(time.Hour).UnixMilli()) }

	cases := []struct {
		name    string
		token   func(t *testing.T) (string, bool)
		profile string
		hasProf bool
	}{
		{
			name:    "expired token with valid profile",
			token:   func(t *testing.T) (string, bool) { return mint(t, testNow.Add(-time.Millisecond).UnixMilli()), true },
			profile: `{"id":42,"name":"A B"}`, hasProf: true,
		},
		{
			name:    "token expiring exactly now",
			token:   func(t *testing.T) (string, bool) { return mint(t, testNow.UnixMilli()), true },
			profile: `{"id":42,"name":"A B"}`, hasProf: true,
		},
		{
			name:    "malformed token",
			token:   func(t *testing.T) (string, bool) { return "not-a-token", true },
			profile: `{"id":42,"name":"A B"}`, hasProf: true,
		},
		{
			name:  "token without profile",
			token: func(t *testing.T) (string, bool) { return valid(t), true },
		},
		{
			name:    "profile without token",
			token:   func(t *testing.T) (string, bool) { return "", false },
			profile: `{"id":42,"name":"A B"}`, hasProf: true,
		},
		{
			name:    "unreadable profile",
			token:   func(t *testing.T) (string, bool) { return valid(t), true },
			profile: `{not json`, hasProf: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			storage := NewMemoryStorage()
			if tok, ok := tc.token(t); ok {
				require.NoError(t, storage.SetItem(TokenKey, tok))
			}
			if tc.hasProf {
				require.NoError(t, storage.SetItem(ProfileKey, tc.profile))
			}

			s := newTestStore(t, storage)
			require.False(t, s.Load().Authenticated())

			_, ok, _ := storage.GetItem(TokenKey)
			require.False(t, ok, "token should be cleared")
			_, ok, _ = storage.GetItem(ProfileKey)
			require.False(t, ok, "profile should be cleared")
		})
	}
}

func TestClear(t *testing.T) {
	storage := NewMemoryStorage()
	s := newTestStore(t, storage)
	require.NoError(t, s.Save(mint(t, testNow.Add(time.Hour).UnixMilli()), testProfile))
	require.NoError(t, s.Clear())
	require.False(t, s.Load().Authenticated())
}

func TestManagerLifecycle(t *testing.T) {
	storage := NewMemoryStorage()
	m := NewManager(newTestStore(t, storage))
	require.False(t, m.Hydrate().Authenticated())

	tok := mint(t, testNow.Add(time.Hour).UnixMilli())
	require.NoError(t, m.Save(tok, testProfile))
	require.True(t, m.Authenticated())

	reloaded := NewManager(newTestStore(t, storage))
	require.True(t, reloaded.Hydrate().Authenticated())

	require.NoError(t, m.Logout())
	require.False(t, m.Authenticated())
	require.False(t, NewManager(newTestStore(t, storage)).Hydrate().Authenticated())
}

func TestManagerRejectsUnusableToken(t *testing.T) {
	m := NewManager(newTestStore(t, NewMemoryStorage()))

	err := m.Save("garbage", testProfile)
	require.True(t, errors.Is(err, token.ErrMalformedToken))

	require.Error(t, m.Save(mint(t, testNow.Add(-time.Hour).UnixMilli()), testProfile))
	require.False(t, m.Authenticated())
}

func TestDefaultCodecAcceptsSignedTokens(t *testing.T) {
	signer, err := token.NewSignedCodec([]byte(strings.Repeat("k", 32)), "deckauth")
	require.NoError(t, err)
	tok, err := signer.Encode(token.ClaimsFor(testProfile, testNow.Add(time.Hour).UnixMilli()))
	require.NoError(t, err)

	storage := NewMemoryStorage()
	s := NewStore(storage, nil, nil)
	s.now = func() time.Time { return testNow }
	m := NewManager(s)
	require.NoError(t, m.Save(tok, testProfile))
	require.Equal(t, int64(42), m.State().Claims.ProviderID)

	reloaded := NewStore(storage, nil, nil)
	reloaded.now = func() time.Time { return testNow }
	require.True(t, reloaded.Load().Authenticated())

	expired, err := signer.Encode(token.ClaimsFor(testProfile, testNow.Add(-time.Hour).UnixMilli()))
	require.NoError(t, err)
	require.Error(t, m.Save(expired, testProfile))
}

func TestSQLiteStoragePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	storage, err := OpenSQLiteStorage(path)
	require.NoError(t, err)
	s := newTestStore(t, storage)
	tok := mint(t, testNow.Add(time.Hour).UnixMilli())
	require.NoError(t, s.Save(tok, testProfile))
	require.NoError(t, s.Save(tok, testProfile))
	require.NoError(t, storage.Close())

	reopened, err := OpenSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	state := newTestStore(t, reopened).Load()
	require.True(t, state.Authenticated())
	require.Equal(t, tok, state.Token)

	require.NoError(t, reopened.RemoveItem(TokenKey))
	_, ok, err := reopened.GetItem(TokenKey)
	require.NoError(t, err)
	require.False(t, ok)
}
