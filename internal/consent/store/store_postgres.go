package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"privileges/internal/consent/models"
	id "privileges/pkg/domain"
	"privileges/pkg/platform/sentinel"
	txcontext "privileges/pkg/platform/tx"
)

// PostgresStore persists consent records in PostgreSQL. Every method runs on
// the ambient transaction when the context carries one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `user_id, privilege_key, granted, granted_at, revoked_at, updated_at, notes`

// upsertQuery performs the insert-or-update and the timestamp transitions in
// a single statement, so concurrent writers to the same pair serialize on the
// row and each sees the other's result.
const upsertQuery = `
	INSERT INTO consent_records (` + recordColumns + `)
	VALUES (
		$1, $2, $3::boolean,
		CASE WHEN $3::boolean THEN $4::timestamptz END,
		CASE WHEN $3::boolean THEN NULL ELSE $4::timestamptz END,
		$4::timestamptz,
		$5::text
	)
	ON CONFLICT (user_id, privilege_key) DO UPDATE SET
		granted = EXCLUDED.granted,
		granted_at = CASE
			WHEN EXCLUDED.granted AND NOT consent_records.granted THEN EXCLUDED.updated_at
			ELSE consent_records.granted_at
		END,
		revoked_at = CASE
			WHEN EXCLUDED.granted THEN NULL
			WHEN consent_records.granted THEN EXCLUDED.updated_at
			ELSE consent_records.revoked_at
		END,
		updated_at = EXCLUDED.updated_at,
		notes = CASE
			WHEN EXCLUDED.notes <> '' THEN EXCLUDED.notes
			ELSE consent_records.notes
		END
	RETURNING ` + recordColumns

func (s *PostgresStore) Find(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM consent_records WHERE user_id = $1 AND privilege_key = $2`
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(userID), key.String())
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find consent record", err)
	}
	return record, nil
}

func (s *PostgresStore) FindAll(ctx context.Context, userID id.UserID) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM consent_records WHERE user_id = $1 ORDER BY privilege_key`
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, classify("list consent records", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, classify("scan consent record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate consent records", err)
	}
	return records, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) (*models.Record, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, upsertQuery, uuid.UUID(userID), key.String(), granted, now, notes)
	record, err := scanRecord(row)
	if err != nil {
		return nil, classify("upsert consent record", err)
	}
	return record, nil
}

func (s *PostgresStore) DeleteByUser(ctx context.Context, userID id.UserID) (int, error) {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `DELETE FROM consent_records WHERE user_id = $1`, uuid.UUID(userID))
	if err != nil {
		return 0, classify("delete consent records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete consent records: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		userID    uuid.UUID
		key       string
		record    models.Record
		grantedAt sql.NullTime
		revokedAt sql.NullTime
	)
	if err := row.Scan(&userID, &key, &record.Granted, &grantedAt, &revokedAt, &record.UpdatedAt, &record.Notes); err != nil {
		return nil, err
	}
	record.UserID = id.UserID(userID)
	record.PrivilegeKey = id.PrivilegeKey(key)
	if grantedAt.Valid {
		t := grantedAt.Time
		record.GrantedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		record.RevokedAt = &t
	}
	return &record, nil
}

// classify maps driver errors onto sentinel facts, keeping the driver error
// in the chain.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrConflict, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
