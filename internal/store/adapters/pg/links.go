package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
)

type linkRepo struct {
	pool *pgxpool.Pool
}

func (r *linkRepo) Lookup(ctx context.Context, providerID, subject string) (string, error) {
	var accountID string
	err := r.pool.QueryRow(ctx,
		`SELECT account_id FROM account_links WHERE provider_id = $1 AND subject = $2`,
		providerID, subject,
	).Scan(&accountID)
	if err != nil {
		return "", mapErr(err)
	}
	return accountID, nil
}

func (r *linkRepo) Create(ctx context.Context, l repository.AccountLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_links (account_id, provider_id, subject, idp_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.AccountID, l.ProviderID, l.Subject, l.IdPName, l.CreatedAt,
	)
	return mapErr(err)
}

func (r *linkRepo) Delete(ctx context.Context, accountID, providerID string) (int, error) {
	q := `DELETE FROM account_links WHERE account_id = $1`
	args := []any{accountID}
	if providerID != "" {
		q += ` AND provider_id = $2`
		args = append(args, providerID)
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *linkRepo) ConnectedProviders(ctx context.Context, accountID string) ([]repository.ConnectedProvider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT provider_id, idp_name FROM account_links
		WHERE account_id = $1 ORDER BY provider_id, idp_name`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.ConnectedProvider, error) {
		var cp repository.ConnectedProvider
		err := row.Scan(&cp.ProviderID, &cp.IdPName)
		return cp, err
	})
}

func (r *linkRepo) ListByAccount(ctx context.Context, accountID string) ([]repository.AccountLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, provider_id, subject, idp_name, created_at FROM account_links
		WHERE account_id = $1 ORDER BY provider_id, subject`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.AccountLink, error) {
		var l repository.AccountLink
		err := row.Scan(&l.AccountID, &l.ProviderID, &l.Subject, &l.IdPName, &l.CreatedAt)
		return l, err
	})
}
