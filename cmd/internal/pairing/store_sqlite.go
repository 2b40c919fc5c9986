package pairing

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/storage"
)

// SQLiteStore persists pairing tokens in SQLite (storage.OpenSQLite).
//
// Redeem runs in a write transaction; the database is opened with
// _txlock=immediate so the transaction holds the write lock from BEGIN.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{db: db}, nil
}

// Create inserts a new PENDING token.
func (s *SQLiteStore) Create(ctx context.Context, in CreateRecord) (Token, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Token{}, ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairing_tokens (
			token_hash, id, user_id, user_email, purpose, initiator, state, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
	`,
		in.TokenHash,
		in.ID,
		in.UserID,
		in.UserEmail,
		string(in.Purpose),
		string(in.Initiator),
		storage.UnixNano(in.CreatedAt),
		storage.UnixNano(in.ExpiresAt),
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
func (s *SQLiteStore) GetByTokenHash(ctx context.Context, tokenHash string) (Token, error) {
	return s.get(ctx, s.db, tokenHash)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, tokenHash string) (Token, error) {
	out, err := scanSQLiteToken(q.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM pairing_tokens
		WHERE token_hash = ?
	`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return out, err
}

// Redeem claims the token and inserts its session in one transaction.
func (s *SQLiteStore) Redeem(ctx context.Context, in RedeemRecord) (red Redemption, err error) {
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.Session.ID) == "" {
		return Redemption{}, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Redemption{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := storage.UnixNano(in.Now)
	tok, err := scanSQLiteToken(tx.QueryRowContext(ctx, `
		UPDATE pairing_tokens
		   SET state = 'redeemed',
		       redeemed_at = ?,
		       redeemed_session_id = ?
		 WHERE token_hash = ?
		   AND purpose = ?
		   AND state = 'pending'
		   AND expires_at > ?
		RETURNING `+tokenColumns,
		now,
		in.Session.ID,
		in.TokenHash,
		string(in.Purpose),
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		cur, selErr := s.get(ctx, tx, in.TokenHash)
		switch {
		case selErr != nil:
			err = selErr
		case cur.Purpose != in.Purpose:
			err = ErrNotFound
		default:
			err = classifyLostClaim(cur, in.Now)
		}
		return Redemption{}, err
	}
	if err != nil {
		return Redemption{}, err
	}

	sess := in.Session.Bind(session.Identity{UserID: tok.UserID, UserEmail: tok.UserEmail})
	_, err = tx.ExecContext(ctx, `
		INSERT INTO web_sessions (session_id, user_id, user_email, created_at, expires_at, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.UserEmail, storage.UnixNano(sess.CreatedAt), storage.UnixNano(sess.ExpiresAt), string(sess.Source))
	if err != nil {
		return Redemption{}, err
	}

	if err = tx.Commit(); err != nil {
		return Redemption{}, err
	}
	return Redemption{Token: tok, Session: sess}, nil
}

// MarkExpired moves a PENDING token past its TTL to EXPIRED.
func (s *SQLiteStore) MarkExpired(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pairing_tokens
		   SET state = 'expired'
		 WHERE token_hash = ?
		   AND state = 'pending'
		   AND expires_at <= ?
	`, tokenHash, storage.UnixNano(now))
	return err
}

// ExpirePendingForUser moves every PENDING token of userID to EXPIRED.
func (s *SQLiteStore) ExpirePendingForUser(ctx context.Context, userID string, purpose Purpose) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pairing_tokens
		   SET state = 'expired'
		 WHERE user_id = ?
		   AND purpose = ?
		   AND state = 'pending'
	`, userID, string(purpose))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens whose expires_at <= before.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pairing_tokens WHERE expires_at <= ?`, storage.UnixNano(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSQLiteToken(row *sql.Row) (Token, error) {
	var (
		out                  Token
		createdAt, expiresAt int64
		redeemedAt           sql.NullInt64
		redeemedSessionID    sql.NullString
	)
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.UserEmail,
		&out.Purpose,
		&out.Initiator,
		&out.State,
		&createdAt,
		&expiresAt,
		&redeemedAt,
		&redeemedSessionID,
	)
	if err != nil {
		return Token{}, err
	}
	out.CreatedAt = storage.FromUnixNano(createdAt)
	out.ExpiresAt = storage.FromUnixNano(expiresAt)
	if redeemedAt.Valid {
		t := storage.FromUnixNano(redeemedAt.Int64)
		out.RedeemedAt = &t
	}
	if redeemedSessionID.Valid {
		sid := redeemedSessionID.String
		out.RedeemedSessionID = &sid
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
