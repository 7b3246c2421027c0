package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const agentColumns = `id, name, hostname, platform, arch, version, ip_address, total_memory, status, last_seen, created_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, a *Agent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agents (id, name, hostname, platform, arch, version, ip_address, total_memory, status, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   hostname = EXCLUDED.hostname,
		   platform = EXCLUDED.platform,
		   arch = EXCLUDED.arch,
		   version = EXCLUDED.version,
		   ip_address = EXCLUDED.ip_address,
		   total_memory = EXCLUDED.total_memory,
		   status = EXCLUDED.status,
		   last_seen = EXCLUDED.last_seen
		 RETURNING created_at`,
		a.ID, a.Name, a.Hostname, a.Platform, a.Arch, a.Version, a.IPAddress, int64(a.TotalMemory),
		a.Status, a.LastSeen, a.CreatedAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE agents SET last_seen = $2, status = 'online' WHERE id = $1`, id, at)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, status string, at time.Time) error {
	return s.exec(ctx, `UPDATE agents SET status = $2, last_seen = $3 WHERE id = $1`, id, status, at)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	result := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var (
		a           Agent
		totalMemory int64
	)
	err := row.Scan(&a.ID, &a.Name, &a.Hostname, &a.Platform, &a.Arch, &a.Version, &a.IPAddress,
		&totalMemory, &a.Status, &a.LastSeen, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.TotalMemory = uint64(totalMemory)
	return &a, nil
}
