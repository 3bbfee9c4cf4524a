package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/app/entity"
)

const greetingColumns = `id, first_name, last_name, message, user_id, created_at, updated_at`

type GreetingRepository struct {
	db DBTX
}

func NewGreetingRepository(db DBTX) *GreetingRepository {
	return &GreetingRepository{db: db}
}

func (r *GreetingRepository) Create(ctx context.Context, greeting *entity.Greeting) error {
	query := `
		INSERT INTO greetings (first_name, last_name, message, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		greeting.FirstName,
		greeting.LastName,
		greeting.Message,
		greeting.UserID,
		greeting.CreatedAt,
		greeting.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	greeting.ID = uint64(id)
	return nil
}

// FindByIDAndUser only matches greetings owned by userID, so a greeting of
// another user looks exactly like a missing one.
func (r *GreetingRepository) FindByIDAndUser(ctx context.Context, id, userID uint64) (*entity.Greeting, error) {
	query := `
		SELECT ` + greetingColumns + `
		FROM greetings WHERE id = ? AND user_id = ?
	`
	greeting := &entity.Greeting{}
	err := scanGreeting(r.db.QueryRowContext(ctx, query, id, userID), greeting)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return greeting, nil
}

func (r *GreetingRepository) FindAllByUser(ctx context.Context, userID uint64) ([]entity.Greeting, error) {
	query := `
		SELECT ` + greetingColumns + `
		FROM greetings WHERE user_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	greetings := make([]entity.Greeting, 0)
	for rows.Next() {
		var greeting entity.Greeting
		if err = scanGreeting(rows, &greeting); err != nil {
			return nil, err
		}
		greetings = append(greetings, greeting)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return greetings, nil
}

// Update returns the number of rows changed; zero means the greeting is gone.
func (r *GreetingRepository) Update(ctx context.Context, greeting *entity.Greeting) (int64, error) {
	query := `
		UPDATE greetings SET
			first_name = ?,
			last_name = ?,
			message = ?,
			updated_at = ?
		WHERE id = ? AND user_id = ?
	`
	greeting.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		greeting.FirstName,
		greeting.LastName,
		greeting.Message,
		greeting.UpdatedAt,
		greeting.ID,
		greeting.UserID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *GreetingRepository) DeleteByIDAndUser(ctx context.Context, id, userID uint64) (int64, error) {
	query := `DELETE FROM greetings WHERE id = ? AND user_id = ?`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGreeting(row rowScanner, greeting *entity.Greeting) error {
	return row.Scan(
		&greeting.ID,
		&greeting.FirstName,
		&greeting.LastName,
		&greeting.Message,
		&greeting.UserID,
		&greeting.CreatedAt,
		&greeting.UpdatedAt,
	)
}
