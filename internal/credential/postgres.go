package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token"
)

// Schema creates the table backing PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS credential_sessions (
	session_id         TEXT PRIMARY KEY,
	access_token       TEXT NOT NULL,
	refresh_token      TEXT NOT NULL,
	user_info          TEXT NOT NULL,
	access_expires_at  TIMESTAMPTZ NOT NULL,
	refresh_expires_at TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS credential_sessions_refresh_expires_at_idx
	ON credential_sessions (refresh_expires_at);`

// PostgresStore keeps bundles server-side in Postgres, one row per session.
type PostgresStore struct {
	pool  *pgxpool.Pool
	codec *token.Codec
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool, codec *token.Codec) *PostgresStore {
	if codec == nil {
		codec = token.NewCodec(nil)
	}
	return &PostgresStore{pool: pool, codec: codec}
}

// Session returns the Store for one session.
func (s *PostgresStore) Session(id string) Store {
	return &postgresSession{store: s, id: id}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PurgeExpired deletes sessions whose refresh token has expired and returns
// how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM credential_sessions WHERE refresh_expires_at <= $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purging expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

type postgresSession struct {
	store *PostgresStore
	id    string
}

func (p *postgresSession) Read(ctx context.Context) (Bundle, error) {
	query := `
		SELECT access_token, refresh_token, user_info,
		       access_expires_at, refresh_expires_at
		FROM credential_sessions
		WHERE session_id = $1`

	var (
		access, refresh, info         string
		accessExpires, refreshExpires time.Time
	)
	err := p.store.pool.QueryRow(ctx, query, p.id).Scan(
		&access, &refresh, &info,
		&accessExpires, &refreshExpires,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bundle{}, nil
		}
		return Bundle{}, fmt.Errorf("querying session: %w", err)
	}

	if p.store.codec.RemainingLifetime(accessExpires) <= 0 {
		access, info = "", ""
	}
	if p.store.codec.RemainingLifetime(refreshExpires) <= 0 {
		refresh = ""
	}
	return decodeBundle(access, refresh, info), nil
}

func (p *postgresSession) Write(ctx context.Context, b Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}

	access, err := encodeValue(b.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := encodeValue(b.RefreshToken)
	if err != nil {
		return err
	}
	info, err := encodeValue(b.UserInfo)
	if err != nil {
		return err
	}

	// Unreadable expiries are stored as already expired.
	l := LifetimesOf(p.store.codec, b)
	if l.Access.IsZero() {
		l.Access = time.Unix(0, 0)
	}
	if l.Refresh.IsZero() {
		l.Refresh = time.Unix(0, 0)
	}

	query := `
		INSERT INTO credential_sessions
			(session_id, access_token, refresh_token, user_info, access_expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			user_info = EXCLUDED.user_info,
			access_expires_at = EXCLUDED.access_expires_at,
			refresh_expires_at = EXCLUDED.refresh_expires_at,
			updated_at = NOW()`

	_, err = p.store.pool.Exec(ctx, query,
		p.id, access, refresh, info, l.Access.UTC(), l.Refresh.UTC())
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func (p *postgresSession) Clear(ctx context.Context) error {
	_, err := p.store.pool.Exec(ctx, "DELETE FROM credential_sessions WHERE session_id = $1", p.id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
