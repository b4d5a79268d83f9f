package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production Adapter. All mutation is conditional on the
// version column; concurrent writers to the same ticket are resolved purely
// by the optimistic-concurrency retry in Apply.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the tickets table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                  UUID PRIMARY KEY,
			session_id          TEXT NOT NULL UNIQUE,
			location            TEXT NOT NULL DEFAULT '',
			summary             TEXT NOT NULL DEFAULT '',
			transcript          TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			importance          INT NOT NULL CHECK (importance BETWEEN 1 AND 5),
			ticket_type         TEXT NOT NULL DEFAULT 'unknown',
			life_threatening    BOOLEAN NOT NULL DEFAULT FALSE,
			services_needed     TEXT[] NOT NULL DEFAULT '{}',
			affected_people     INT NOT NULL DEFAULT 0,
			suspect_description TEXT NOT NULL DEFAULT '',
			corroborating       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			version             BIGINT NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS tickets_rank_idx ON tickets (status, importance DESC, updated_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate tickets: %w", err)
	}
	return nil
}

const ticketColumns = `id, session_id, location, summary, transcript, status, importance,
	ticket_type, life_threatening, services_needed, affected_people,
	suspect_description, corroborating, created_at, updated_at, version`

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (Ticket, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

func (p *Postgres) GetBySession(ctx context.Context, sessionID string) (Ticket, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE session_id = $1`, sessionID)
	return scanTicket(row)
}

func (p *Postgres) Create(ctx context.Context, t Ticket) (Ticket, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO tickets (id, session_id, location, summary, transcript, status, importance,
			ticket_type, life_threatening, services_needed, affected_people,
			suspect_description, corroborating)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING `+ticketColumns,
		t.ID, t.SessionID, t.Location, t.Summary, t.Transcript, t.Status, t.Importance,
		t.TicketType, t.LifeThreatening, t.ServicesNeeded, t.AffectedPeople,
		t.SuspectDescription, t.Corroborating,
	)
	created, err := scanTicket(row)
	if errors.Is(err, ErrNotFound) {
		// Another writer created this session's ticket first.
		return Ticket{}, ErrWriteConflict
	}
	return created, err
}

func (p *Postgres) UpdateVersioned(ctx context.Context, t Ticket) (Ticket, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE tickets SET
			location = $3, summary = $4, transcript = $5, status = $6, importance = $7,
			ticket_type = $8, life_threatening = $9, services_needed = $10,
			affected_people = $11, suspect_description = $12, corroborating = $13,
			updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+ticketColumns,
		t.ID, t.Version, t.Location, t.Summary, t.Transcript, t.Status, t.Importance,
		t.TicketType, t.LifeThreatening, t.ServicesNeeded, t.AffectedPeople,
		t.SuspectDescription, t.Corroborating,
	)
	updated, err := scanTicket(row)
	if errors.Is(err, ErrNotFound) {
		// Row exists with another version, or was never created; either way
		// the caller re-reads and recomputes.
		return Ticket{}, ErrWriteConflict
	}
	return updated, err
}

func (p *Postgres) List(ctx context.Context, status Status) ([]Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY importance DESC, updated_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.SessionID, &t.Location, &t.Summary, &t.Transcript, &t.Status, &t.Importance,
		&t.TicketType, &t.LifeThreatening, &t.ServicesNeeded, &t.AffectedPeople,
		&t.SuspectDescription, &t.Corroborating, &t.CreatedAt, &t.UpdatedAt, &t.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, ErrNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("scan ticket: %w", err)
	}
	return t, nil
}
