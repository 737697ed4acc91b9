package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSource keeps the directory in the patients table.
type PgSource struct {
	pool *pgxpool.Pool
}

var _ Source = (*PgSource)(nil)

func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var email, phone *string

	err := row.Scan(
		&r.ID,
		&r.GivenName,
		&r.FamilyName,
		&email,
		&phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if email != nil {
		r.Email = *email
	}
	if phone != nil {
		r.Phone = *phone
	}
	return &r, nil
}

func (s *PgSource) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, given_name, family_name, email, phone
		FROM patients
		ORDER BY family_name, given_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgSource) Add(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, given_name, family_name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, r.ID, r.GivenName, r.FamilyName, r.Email, r.Phone)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}
