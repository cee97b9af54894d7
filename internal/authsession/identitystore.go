package authsession

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// IdentityStore is the built-in identity backend: a sqlite-backed
// credential store that bootstraps an admin principal from a configured
// secret and issues per-user tokens. The core treats its Validator()
// exactly like an externally supplied one.
//
// Structurally this follows the WAL-mode, busy_timeout-pragma,
// retry-on-SQLITE_BUSY pattern used for writes that can race the
// TTL-less credential table. There is no password-hashing library
// available (no golang.org/x/crypto/bcrypt dependency); tokens are opaque
// random secrets rather than passwords, so a plain stdlib crypto/sha256 of
// the token is sufficient to store without keeping the raw secret at rest.
type IdentityStore struct {
	db *sql.DB
}

// OpenIdentityStore opens (creating if necessary) the sqlite-backed
// credential store at dbPath.
func OpenIdentityStore(dbPath string) (*IdentityStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create identity store directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping identity store: %w", err)
	}

	s := &IdentityStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize identity schema: %w", err)
	}
	return s, nil
}

func (s *IdentityStore) initSchema() error {
	const schema = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		token_hash TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		roles_json TEXT NOT NULL,
		expires_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *IdentityStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *IdentityStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Bootstrap seeds a single admin credential from adminSecret if no admin
// credential already exists for that exact secret. It is idempotent: calling
// it again with the same secret is a no-op.
func (s *IdentityStore) Bootstrap(ctx context.Context, adminSecret string) error {
	if adminSecret == "" {
		return fmt.Errorf("identity store: admin secret must not be empty")
	}
	hash := hashToken(adminSecret)

	return withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO credentials(token_hash, user_id, roles_json, expires_at, created_at)
			VALUES (?, 'admin', '["admin"]', NULL, ?)
			ON CONFLICT(token_hash) DO NOTHING`,
			hash, time.Now().UnixMilli())
		return err
	})
}

// IssueToken generates and stores a new credential for userID, returning the
// raw token (never stored at rest — only its hash is persisted). ttl of nil
// means the issued session never expires.
func (s *IdentityStore) IssueToken(ctx context.Context, userID string, roles []string, ttl *time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("marshal roles: %w", err)
	}

	var expiresAt any
	if ttl != nil {
		expiresAt = time.Now().Add(*ttl).UnixMilli()
	}

	err = withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO credentials(token_hash, user_id, roles_json, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			hashToken(token), userID, string(rolesJSON), expiresAt, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Revoke deletes the credential matching token, if any.
func (s *IdentityStore) Revoke(ctx context.Context, token string) error {
	return withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE token_hash = ?`, hashToken(token))
		return err
	})
}

// lookup resolves a raw token to a Session, or (nil, nil) if unknown.
func (s *IdentityStore) lookup(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, roles_json, expires_at FROM credentials WHERE token_hash = ?`,
		hashToken(token))

	var userID, rolesJSON string
	var expiresAtMs sql.NullInt64
	if err := row.Scan(&userID, &rolesJSON, &expiresAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	var roles []string
	if err := json.Unmarshal([]byte(rolesJSON), &roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}

	session := &Session{UserID: userID, Roles: roles}
	if expiresAtMs.Valid {
		t := time.UnixMilli(expiresAtMs.Int64)
		session.ExpiresAt = &t
	}
	return session, nil
}

// Validator returns a Validator closure backed by this store. The core
// treats it identically to any externally-supplied Validator.
func (s *IdentityStore) Validator() Validator {
	return func(token string) (*Session, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.lookup(ctx, token)
	}
}

// withBusyRetry calls fn up to three times in total (the first attempt plus
// two retries), with exponential backoff between attempts, when
// it fails with a SQLITE_BUSY / "database is locked" error, since a
// single-file sqlite database under WAL can still reject a concurrent
// writer briefly while another transaction holds the write lock.
func withBusyRetry(fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteConflict(err) {
			return err
		}
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<attempt)
			slog.Debug("identity store write retrying after busy error", "attempt", attempt+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return err
}

func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
