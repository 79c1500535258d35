package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"connect-gateway/internal/domain"
)

// Schema for the account ledger. The unique index on external_account_id
// both enforces the 1:1 mapping and backs the event reconciler's reverse
// lookup; updated_at is always assigned by the database clock.
const Schema = `
CREATE TABLE IF NOT EXISTS merchant_accounts (
	user_id             TEXT PRIMARY KEY,
	external_account_id TEXT UNIQUE,
	status              TEXT        NOT NULL DEFAULT 'none',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore persists the account ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure merchant_accounts schema: %w", err)
	}
	return nil
}

const selectColumns = `user_id, external_account_id, status, updated_at`

func (s *PostgresStore) FindByUser(ctx context.Context, userID string) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM merchant_accounts WHERE user_id = $1`, userID)
	return scanRecord(row, "find account by user")
}

func (s *PostgresStore) FindByExternalAccount(ctx context.Context, externalAccountID string) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM merchant_accounts WHERE external_account_id = $1`, externalAccountID)
	return scanRecord(row, "find account by external id")
}

func (s *PostgresStore) AttachExternalAccount(ctx context.Context, userID, externalAccountID string) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO merchant_accounts (user_id, external_account_id, status, updated_at)
		VALUES ($1, $2, 'pending', now())
		ON CONFLICT (user_id) DO UPDATE
		SET external_account_id = EXCLUDED.external_account_id,
		    status              = EXCLUDED.status,
		    updated_at          = now()
		WHERE merchant_accounts.external_account_id IS NULL
		RETURNING `+selectColumns,
		userID, externalAccountID)

	record, err := scanRecord(row, "attach external account")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The conditional upsert matched nothing: another writer
			// attached an account first.
			return domain.AccountRecord{}, ErrAlreadyProvisioned
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.AccountRecord{}, ErrAlreadyProvisioned
		}
		return domain.AccountRecord{}, err
	}
	return record, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, userID, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE merchant_accounts
		SET status = $3, updated_at = now()
		WHERE user_id = $1 AND external_account_id = $2
		RETURNING `+selectColumns,
		userID, externalAccountID, string(status))
	return scanRecord(row, "update account status")
}

func (s *PostgresStore) UpdateStatusByExternalAccount(ctx context.Context, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE merchant_accounts
		SET status = $2, updated_at = now()
		WHERE external_account_id = $1
		RETURNING `+selectColumns,
		externalAccountID, string(status))
	return scanRecord(row, "update account status by external id")
}

func (s *PostgresStore) Disconnect(ctx context.Context, externalAccountID string) (domain.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE merchant_accounts
		SET external_account_id = NULL, status = 'disconnected', updated_at = now()
		WHERE external_account_id = $1
		RETURNING `+selectColumns,
		externalAccountID)
	return scanRecord(row, "disconnect account")
}

func scanRecord(row *sql.Row, op string) (domain.AccountRecord, error) {
	var record domain.AccountRecord
	var externalID sql.NullString
	var status string
	err := row.Scan(&record.UserID, &externalID, &status, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AccountRecord{}, ErrNotFound
		}
		return domain.AccountRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	record.ExternalAccountID = externalID.String
	record.Status = domain.AccountStatus(status)
	return record, nil
}

var _ Store = (*PostgresStore)(nil)
