package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/storage"
)

// PostgresStore persists pairing tokens in PostgreSQL. Redeemed sessions are
// written to web_sessions in storage.PostgresSchema, the schema the session
// store reads from.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{pool: pool, schema: storage.PostgresSchema}, nil
}

const tokenColumns = `id, user_id, user_email, purpose, initiator, state, created_at, expires_at, redeemed_at, redeemed_session_id`

// Create inserts a new PENDING token.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Token{}, ErrInvalidInput
	}
	tokens := pgIdent(s.schema, "pairing_tokens")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+tokens+` (
		     token_hash, id, user_id, user_email, purpose, initiator, state, created_at, expires_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)`,
		in.TokenHash,
		in.ID,
		in.UserID,
		in.UserEmail,
		string(in.Purpose),
		string(in.Initiator),
		in.CreatedAt,
		in.ExpiresAt,
	)
	if err != nil {
		return Token{}, err
	}

	return Token{
		ID:        in.ID,
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
		Purpose:   in.Purpose,
		Initiator: in.Initiator,
		State:     StatePending,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}, nil
}

// GetByTokenHash fetches a token by hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Token{}, ErrInvalidInput
	}

	tokens := pgIdent(s.schema, "pairing_tokens")
	out, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+`
		   FROM `+tokens+`
		  WHERE token_hash = $1`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	return out, nil
}

// Redeem claims the token and inserts its session in one statement.
//
// Under READ COMMITTED a concurrent UPDATE of the same row blocks, then
// re-evaluates the WHERE clause against the committed row, so at most one
// claim matches and only that one feeds the INSERT.
func (s *PostgresStore) Redeem(ctx context.Context, in RedeemRecord) (Redemption, error) {
	if err := ctx.Err(); err != nil {
		return Redemption{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.Session.ID) == "" {
		return Redemption{}, ErrInvalidInput
	}

	tokens := pgIdent(s.schema, "pairing_tokens")
	sessions := pgIdent(s.schema, "web_sessions")

	out, err := scanToken(s.pool.QueryRow(ctx,
		`WITH claimed AS (
		     UPDATE `+tokens+`
		        SET state = 'redeemed',
		            redeemed_at = $1,
		            redeemed_session_id = $2
		      WHERE token_hash = $3
		        AND purpose = $4
		        AND state = 'pending'
		        AND expires_at > $1
		  RETURNING `+tokenColumns+`
		 ), created AS (
		     INSERT INTO `+sessions+` (session_id, user_id, user_email, created_at, expires_at, source)
		     SELECT $2::text, user_id, user_email, $5::timestamptz, $6::timestamptz, $7::text FROM claimed
		  RETURNING session_id
		 )
		 SELECT `+tokenColumns+`
		   FROM claimed
		   JOIN created ON created.session_id = claimed.redeemed_session_id`,
		in.Now,
		in.Session.ID,
		in.TokenHash,
		string(in.Purpose),
		in.Session.CreatedAt,
		in.Session.ExpiresAt,
		string(in.Session.Source),
	))
	if err == nil {
		sess := in.Session.Bind(session.Identity{UserID: out.UserID, UserEmail: out.UserEmail})
		return Redemption{Token: out, Session: sess}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Redemption{}, err
	}

	// Distinguish not-found vs already-redeemed vs expired.
	cur, selErr := s.GetByTokenHash(ctx, in.TokenHash)
	if selErr != nil {
		return Redemption{}, selErr
	}
	if cur.Purpose != in.Purpose {
		return Redemption{}, ErrNotFound
	}
	return Redemption{}, classifyLostClaim(cur, in.Now)
}

// MarkExpired moves a PENDING token past its TTL to EXPIRED.
func (s *PostgresStore) MarkExpired(ctx context.Context, tokenHash string, now time.Time) error {
	tokens := pgIdent(s.schema, "pairing_tokens")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+tokens+`
		    SET state = 'expired'
		  WHERE token_hash = $1
		    AND state = 'pending'
		    AND expires_at <= $2`,
		tokenHash,
		now,
	)
	return err
}

// ExpirePendingForUser moves every PENDING token of userID to EXPIRED.
func (s *PostgresStore) ExpirePendingForUser(ctx context.Context, userID string, purpose Purpose) (int64, error) {
	tokens := pgIdent(s.schema, "pairing_tokens")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+tokens+`
		    SET state = 'expired'
		  WHERE user_id = $1
		    AND purpose = $2
		    AND state = 'pending'`,
		userID,
		string(purpose),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens whose expires_at <= before.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tokens := pgIdent(s.schema, "pairing_tokens")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+tokens+` WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (Token, error) {
	var out Token
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.UserEmail,
		&out.Purpose,
		&out.Initiator,
		&out.State,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.RedeemedAt,
		&out.RedeemedSessionID,
	)
	return out, err
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
