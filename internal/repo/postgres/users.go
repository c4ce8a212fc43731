package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `id, email, username, full_name, hashed_password, is_active, created_at`

type UsersRepo struct {
	pool DB
	prom *observability.Prom
}

func NewUsersRepo(pool DB, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FullName,
		&u.PasswordHash,
		&u.IsActive,
		&u.CreatedAt,
	)

	return u, err
}

func (r *UsersRepo) Create(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error) {
	var u user.User

	err := r.observe("users.create", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`INSERT INTO users (email, username, full_name, hashed_password)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+userColumns,
			email, username, fullName, passwordHash,
		))
		return scanErr
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return user.User{}, user.ErrEmailOrUsernameTaken
		}

		return user.User{}, err
	}

	return u, nil
}

// GetByEmailOrUsername backs the duplicate-registration check.
func (r *UsersRepo) GetByEmailOrUsername(ctx context.Context, email, username string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_email_or_username", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1 OR username = $2`,
			email, username,
		))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByUsername(ctx context.Context, username string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_username", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE username = $1`,
			username,
		))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id int64) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_id", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}
