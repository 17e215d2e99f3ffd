package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/store"
)

type linkRepo struct {
	db *sql.DB
}

func (r *linkRepo) Lookup(ctx context.Context, providerID, subject string) (string, error) {
	var accountID string
	err := r.db.QueryRowContext(ctx,
		`SELECT account_id FROM account_links WHERE provider_id = ? AND subject = ?`,
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
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_links (account_id, provider_id, subject, idp_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.AccountID, l.ProviderID, l.Subject, l.IdPName, toMillis(l.CreatedAt),
	)
	return mapErr(err)
}

func (r *linkRepo) Delete(ctx context.Context, accountID, providerID string) (int, error) {
	q := `DELETE FROM account_links WHERE account_id = ?`
	args := []any{accountID}
	if providerID != "" {
		q += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *linkRepo) ListByAccount(ctx context.Context, accountID string) ([]repository.AccountLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, provider_id, subject, idp_name, created_at FROM account_links
		WHERE account_id = ? ORDER BY provider_id, subject`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []repository.AccountLink
	for rows.Next() {
		var (
			l       repository.AccountLink
			created int64
		)
		if err := rows.Scan(&l.AccountID, &l.ProviderID, &l.Subject, &l.IdPName, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = fromMillis(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *linkRepo) ConnectedProviders(ctx context.Context, accountID string) ([]repository.ConnectedProvider, error) {
	links, err := r.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return store.Dedupe(links), nil
}
