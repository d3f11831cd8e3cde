package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/mbd888/paybox/internal/pagination"
	"github.com/mbd888/paybox/internal/paybox"
)

// PostgresStore persists transactions and alerts in PostgreSQL.
// The schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `
	id, reference, acquirer_id, amount::TEXT, currency, payer_email, return_url,
	state, state_message, acquirer_reference, validated_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, tx *paybox.Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO paybox_transactions (
			id, reference, acquirer_id, amount, currency, payer_email, return_url,
			state, state_message, acquirer_reference, validated_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::NUMERIC(14,2), $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		tx.ID, tx.Reference, tx.AcquirerID, tx.Amount, tx.Currency,
		nullString(tx.PayerEmail), nullString(tx.ReturnURL),
		string(tx.State), nullString(tx.StateMessage), nullString(tx.AcquirerReference),
		tx.ValidatedAt, tx.CreatedAt, tx.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*paybox.Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+transactionColumns+`
		FROM paybox_transactions WHERE id::TEXT = $1`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return tx, err
}

// LookupByReference fetches at most two rows: that is enough to tell a
// unique match from an ambiguous one.
func (p *PostgresStore) LookupByReference(ctx context.Context, reference string) (paybox.Lookup, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM paybox_transactions WHERE reference = $1
		ORDER BY created_at
		LIMIT 2`, reference)
	if err != nil {
		return paybox.Lookup{}, err
	}
	defer func() { _ = rows.Close() }()

	txs, err := scanTransactions(rows)
	if err != nil {
		return paybox.Lookup{}, err
	}
	switch len(txs) {
	case 0:
		return paybox.NotFound(), nil
	case 1:
		return paybox.Found(txs[0]), nil
	}

	var count int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paybox_transactions WHERE reference = $1`, reference,
	).Scan(&count); err != nil {
		return paybox.Lookup{}, err
	}
	return paybox.Ambiguous(count), nil
}

func (p *PostgresStore) List(ctx context.Context, acquirerID string, limit int, cursor *pagination.Cursor) ([]*paybox.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM paybox_transactions
		WHERE ($1 = '' OR acquirer_id = $1)`
	args := []interface{}{acquirerID}
	if cursor != nil {
		query += ` AND (created_at, id::TEXT) < ($3, $4)`
		args = append(args, limit, cursor.CreatedAt, cursor.ID)
	} else {
		args = append(args, limit)
	}
	query += ` ORDER BY created_at DESC, id::TEXT DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) UpdateState(ctx context.Context, id string, from paybox.State, upd StateUpdate) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE paybox_transactions SET
			state = $1,
			state_message = $2,
			acquirer_reference = $3,
			validated_at = COALESCE($4::TIMESTAMPTZ, validated_at),
			updated_at = $5
		WHERE id::TEXT = $6 AND state = $7`,
		string(upd.State), nullString(upd.StateMessage), nullString(upd.AcquirerReference),
		upd.ValidatedAt, upd.UpdatedAt,
		id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) CreateAlert(ctx context.Context, a *Alert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_alerts (
			id, transaction_id, reference, kind, source,
			field, received, expected, detail, created_at
		) VALUES ($1, $2::UUID, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TransactionID, a.Reference, string(a.Kind), string(a.Source),
		nullString(a.Field), nullString(a.Received), nullString(a.Expected), nullString(a.Detail),
		a.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListAlerts(ctx context.Context, transactionID string) ([]*Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id::TEXT, reference, kind, source,
		       field, received, expected, detail, created_at
		FROM payment_alerts
		WHERE transaction_id::TEXT = $1
		ORDER BY created_at DESC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var alerts []*Alert
	for rows.Next() {
		a := &Alert{}
		var kind, source string
		var field, received, expected, detail sql.NullString
		if err := rows.Scan(
			&a.ID, &a.TransactionID, &a.Reference, &kind, &source,
			&field, &received, &expected, &detail, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Kind = AlertKind(kind)
		a.Source = Source(source)
		a.Field = field.String
		a.Received = received.String
		a.Expected = expected.String
		a.Detail = detail.String
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(sc scanner) (*paybox.Transaction, error) {
	tx := &paybox.Transaction{}
	var (
		state        string
		payerEmail   sql.NullString
		returnURL    sql.NullString
		stateMessage sql.NullString
		acquirerRef  sql.NullString
		validatedAt  sql.NullTime
	)

	err := sc.Scan(
		&tx.ID, &tx.Reference, &tx.AcquirerID, &tx.Amount, &tx.Currency, &payerEmail, &returnURL,
		&state, &stateMessage, &acquirerRef, &validatedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.State = paybox.State(state)
	tx.PayerEmail = payerEmail.String
	tx.ReturnURL = returnURL.String
	tx.StateMessage = stateMessage.String
	tx.AcquirerReference = acquirerRef.String
	if validatedAt.Valid {
		tx.ValidatedAt = &validatedAt.Time
	}
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*paybox.Transaction, error) {
	var result []*paybox.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation recognises SQLSTATE 23505 from either driver family.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
