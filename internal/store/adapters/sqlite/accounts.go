package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
)

type accountRepo struct {
	db *sql.DB
}

const accountColumns = `id, username, email, status, roles, properties, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanAccount(row scanner) (*repository.Account, error) {
	var (
		a                repository.Account
		status           string
		roles, props     string
		created, updated int64
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &status, &roles, &props, &created, &updated); err != nil {
		return nil, mapErr(err)
	}
	a.Status = repository.AccountStatus(status)
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
	if err := json.Unmarshal([]byte(roles), &a.Roles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &a.Properties); err != nil {
		return nil, err
	}
	if len(a.Roles) == 0 {
		a.Roles = nil
	}
	if len(a.Properties) == 0 {
		a.Properties = nil
	}
	return &a, nil
}

func encodeJSON(roles []string, props map[string]any) (string, string, error) {
	if roles == nil {
		roles = []string{}
	}
	if props == nil {
		props = map[string]any{}
	}
	r, err := json.Marshal(roles)
	if err != nil {
		return "", "", err
	}
	p, err := json.Marshal(props)
	if err != nil {
		return "", "", err
	}
	return string(r), string(p), nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*repository.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*repository.Account, error) {
	if email == "" {
		return nil, repository.ErrNotFound
	}
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email <> '' AND lower(email) = lower(?)`, email))
}

func (r *accountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

func (r *accountRepo) ListUsernamesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT username FROM accounts WHERE username LIKE ? ESCAPE '\' ORDER BY username`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
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
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, status, roles, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, string(a.Status), roles, props, toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	return mapErr(err)
}

func (r *accountRepo) Save(ctx context.Context, a *repository.Account) error {
	roles, props, err := encodeJSON(a.Roles, a.Properties)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET username = ?, email = ?, status = ?, roles = ?, properties = ?, updated_at = ?
		WHERE id = ?`,
		a.Username, a.Email, string(a.Status), roles, props, toMillis(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
