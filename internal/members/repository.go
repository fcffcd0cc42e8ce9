package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covenant-app/covenant/internal/shared"
)

// Repository provides member persistence.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Member, error)
	Get(ctx context.Context, id string) (Member, error)
	Update(ctx context.Context, id string, patch Patch) (Member, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const memberColumns = `id, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''), updated_at`

// List returns members matching filter.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Member, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM members
		WHERE ($1 = '' OR id = $1)
		ORDER BY last_name, first_name
		LIMIT $2`, filter.OwnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("members: list: %w", err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get fetches a member by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Member, error) {
	return scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
}

// Update applies patch and returns the stored record.
func (r *PGRepository) Update(ctx context.Context, id string, patch Patch) (Member, error) {
	row := r.pool.QueryRow(ctx, `UPDATE members SET
		first_name = COALESCE($2, first_name),
		last_name = COALESCE($3, last_name),
		email = COALESCE($4, email),
		phone = COALESCE($5, phone),
		updated_at = NOW()
		WHERE id = $1
		RETURNING `+memberColumns, id, patch.FirstName, patch.LastName, patch.Email, patch.Phone)
	return scanMember(row)
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	if err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, shared.ErrNotFound
		}
		return Member{}, fmt.Errorf("members: scan: %w", err)
	}
	return m, nil
}

var _ Repository = (*PGRepository)(nil)
