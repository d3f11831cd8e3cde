package merchant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/paybox/internal/paybox"
)

// PostgresStore persists acquirers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed acquirer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const acquirerColumns = `
	id, name, site_id, rank_id, merchant_id, environment,
	action_url, test_action_url, hmac_key, test_hmac_key, public_key,
	created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Acquirer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+acquirerColumns+` FROM acquirers WHERE id = $1`, id)
	a, err := scanAcquirer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAcquirerNotFound
	}
	return a, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Acquirer, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+acquirerColumns+` FROM acquirers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Acquirer
	for rows.Next() {
		a, err := scanAcquirer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Upsert(ctx context.Context, a *Acquirer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO acquirers (
			id, name, site_id, rank_id, merchant_id, environment,
			action_url, test_action_url, hmac_key, test_hmac_key, public_key,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			site_id = EXCLUDED.site_id,
			rank_id = EXCLUDED.rank_id,
			merchant_id = EXCLUDED.merchant_id,
			environment = EXCLUDED.environment,
			action_url = EXCLUDED.action_url,
			test_action_url = EXCLUDED.test_action_url,
			hmac_key = EXCLUDED.hmac_key,
			test_hmac_key = EXCLUDED.test_hmac_key,
			public_key = EXCLUDED.public_key,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.Name, a.SiteID, a.RankID, a.MerchantID, string(a.Environment),
		a.ActionURL, a.TestActionURL, a.HMACKey, a.TestHMACKey, a.PublicKey,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAcquirer(sc scanner) (*Acquirer, error) {
	a := &Acquirer{}
	var environment string
	err := sc.Scan(
		&a.ID, &a.Name, &a.SiteID, &a.RankID, &a.MerchantID, &environment,
		&a.ActionURL, &a.TestActionURL, &a.HMACKey, &a.TestHMACKey, &a.PublicKey,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Environment = paybox.Environment(environment)
	return a, nil
}

var _ Store = (*PostgresStore)(nil)
