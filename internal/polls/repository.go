package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpoll/backend/internal/models"
)

const pollColumns = `id, external_id, question, options, timer_seconds, created_by, created_at, end_time, state, votes, excluded_names, version`

// Repository persists polls in PostgreSQL, one row per poll document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new poll document.
func (r *Repository) Insert(ctx context.Context, p *models.Poll) error {
	const query = `INSERT INTO polls (` + pollColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.ExternalID, p.Question, p.Options, p.Timer, p.CreatedBy, p.CreatedAt,
		p.EndTime, string(p.State), votesOrEmpty(p.Votes), excludedOrEmpty(p.ExcludedNames))
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	p.Version = 1
	return nil
}

// Get returns a poll by storage id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	return r.queryOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
}

// GetByExternalID returns a poll by its creation-time identifier.
func (r *Repository) GetByExternalID(ctx context.Context, externalID int64) (*models.Poll, error) {
	return r.queryOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE external_id = $1`, externalID)
}

// Save replaces the stored document when its version still matches p.Version.
func (r *Repository) Save(ctx context.Context, p *models.Poll) error {
	const query = `UPDATE polls SET options = $2, end_time = $3, state = $4, votes = $5,
		excluded_names = $6, version = version + 1
		WHERE id = $1 AND version = $7`
	tag, err := r.pool.Exec(ctx, query,
		p.ID, p.Options, p.EndTime, string(p.State), votesOrEmpty(p.Votes), excludedOrEmpty(p.ExcludedNames), p.Version)
	if err != nil {
		return fmt.Errorf("save poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, p.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	p.Version++
	return nil
}

// Latest returns the most recently created poll, optionally restricted to a state.
func (r *Repository) Latest(ctx context.Context, state models.PollState) (*models.Poll, error) {
	list, err := r.List(ctx, Filter{State: state, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrPollNotFound
	}
	return list[0], nil
}

// List returns polls matching f, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]*models.Poll, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.CreatedBy != "" {
		args = append(args, f.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}
	query := `SELECT ` + pollColumns + ` FROM polls`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY external_id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()
	var out []*models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) queryOne(ctx context.Context, query string, arg interface{}) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPollNotFound
	}
	return p, err
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var (
		p     models.Poll
		state string
	)
	err := row.Scan(&p.ID, &p.ExternalID, &p.Question, &p.Options, &p.Timer, &p.CreatedBy, &p.CreatedAt,
		&p.EndTime, &state, &p.Votes, &p.ExcludedNames, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan poll: %w", err)
	}
	p.State = models.PollState(state)
	if p.Votes == nil {
		p.Votes = make(map[string]models.Vote)
	}
	return &p, nil
}

func votesOrEmpty(v map[string]models.Vote) map[string]models.Vote {
	if v == nil {
		return map[string]models.Vote{}
	}
	return v
}

func excludedOrEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
