package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
)

type accountRepo struct {
	pool *pgxpool.Pool
}

const accountColumns = `id, username, email, status, roles, properties, created_at, updated_at`

func scanAccount(row pgx.Row) (*repository.Account, error) {
	var (
		a            repository.Account
		status       string
		roles, props []byte
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &status, &roles, &props, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	a.Status = repository.AccountStatus(status)
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &a.Roles); err != nil {
			return nil, err
		}
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &a.Properties); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func encodeJSON(roles []string, props map[string]any) ([]byte, []byte, error) {
	if roles == nil {
		roles = []string{}
	}
	if props == nil {
		props = map[string]any{}
	}
	r, err := json.Marshal(roles)
	if err != nil {
		return nil, nil, err
	}
	p, err := json.Marshal(props)
	if err != nil {
		return nil, nil, err
	}
	return r, p, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*repository.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*repository.Account, error) {
	if email == "" {
		return nil, repository.ErrNotFound
	}
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email <> '' AND lower(email) = lower($1)`, email))
}

func (r *accountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

func (r *accountRepo) ListUsernamesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT username FROM accounts WHERE username LIKE $1 ESCAPE '\' ORDER BY username`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *accountRepo) Create(ctx context.Context, a *repository.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = repository.StatusActive
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	roles, props, err := encodeJSON(a.Roles, a.Properties)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, status, roles, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Username, a.Email, string(a.Status), roles, props, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

func (r *accountRepo) Save(ctx context.Context, a *repository.Account) error {
	roles, props, err := encodeJSON(a.Roles, a.Properties)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET username = $2, email = $3, status = $4, roles = $5, properties = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.Username, a.Email, string(a.Status), roles, props, a.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
