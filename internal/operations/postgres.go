package operations

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const operationColumns = `id, agent_id, kind, target, status, COALESCE(error_message, ''), result,
	COALESCE(requested_by, ''), created_at, completed_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, op *Operation) error {
	id, err := parseID(op.ID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO operations (id, agent_id, kind, target, status, requested_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		id, op.AgentID, string(op.Kind), op.Target, op.Status, op.RequestedBy, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, c Completion) (*Operation, bool, error) {
	id, err := parseID(c.ID)
	if err != nil {
		return nil, false, nil
	}

	var result []byte
	if len(c.Result) > 0 {
		result = c.Result
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE operations
		 SET status = $3, error_message = NULLIF($4, ''), result = $5, completed_at = $6
		 WHERE id = $1 AND status = 'pending' AND ($2 = '' OR agent_id = $2)
		 RETURNING `+operationColumns,
		id, c.AgentID, c.Status, c.Error, result, c.At)
	op, err := scanOperation(row)
	if errors.Is(err, ErrOperationNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return op, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Operation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return nil, ErrOperationNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = $1`, pgID)
	return scanOperation(row)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Operation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+operationColumns+` FROM operations
		 WHERE ($1 = '' OR agent_id = $1)
		 ORDER BY created_at DESC LIMIT $2`, f.AgentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	result := []Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) Stats(ctx context.Context, agentID string) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'pending')
		 FROM operations WHERE agent_id = $1`, agentID,
	).Scan(&st.Total, &st.Successful, &st.Failed, &st.Pending)
	if err != nil {
		return Stats{}, fmt.Errorf("operation stats: %w", err)
	}
	return st, nil
}

func scanOperation(row pgx.Row) (*Operation, error) {
	var (
		op     Operation
		id     pgtype.UUID
		kind   string
		result []byte
	)
	err := row.Scan(&id, &op.AgentID, &kind, &op.Target, &op.Status, &op.Error, &result,
		&op.RequestedBy, &op.CreatedAt, &op.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, fmt.Errorf("scan operation: %w", err)
	}
	op.ID = uuid.UUID(id.Bytes).String()
	op.Kind = protocol.OperationKind(kind)
	op.Result = result
	return &op, nil
}

func parseID(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}
