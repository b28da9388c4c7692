package tripo

import (
	"database/sql"
	"sync"
	"time"
)

// expirySkew treats a token as invalid slightly before its nominal expiry so
// an in-flight request never carries a token that dies mid-call.
const expirySkew = 5 * time.Second

// TokenStore caches the vendor bearer token. The in-memory implementation is
// enough for a single instance; the database-backed one shares the token
// across instances so each deployment authenticates once per TTL.
type TokenStore interface {
	Get(provider string) (token string, ok bool)
	Put(provider, token string, expiresAt time.Time) error
}

type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	token     string
	expiresAt time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken)}
}

func (s *MemoryTokenStore) Get(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[provider]
	if !ok || time.Now().After(t.expiresAt.Add(-expirySkew)) {
		return "", false
	}
	return t.token, true
}

func (s *MemoryTokenStore) Put(provider, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = memoryToken{token: token, expiresAt: expiresAt}
	return nil
}

// DBTokenStore persists tokens in the vendor_tokens table.
type DBTokenStore struct {
	db *sql.DB
}

func NewDBTokenStore(db *sql.DB) *DBTokenStore {
	return &DBTokenStore{db: db}
}

func (s *DBTokenStore) Get(provider string) (string, bool) {
	var token string
	var expiresAt time.Time
	err := s.db.QueryRow(`
		SELECT token, expires_at
		FROM vendor_tokens
		WHERE provider = $1
	`, provider).Scan(&token, &expiresAt)
	if err != nil {
		return "", false
	}
	if time.Now().After(expiresAt.Add(-expirySkew)) {
		return "", false
	}
	return token, true
}

func (s *DBTokenStore) Put(provider, token string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO vendor_tokens (provider, token, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (provider)
		DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, updated_at = now()
	`, provider, token, expiresAt)
	return err
}
