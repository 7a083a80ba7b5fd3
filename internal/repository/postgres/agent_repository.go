package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
)

// AgentRepository is a read-only view of agent rule configuration. Agents
// are written by the configuration wizard, which is outside this service.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = `id, user_id, name, status, phone_number, conditions, schedule, created_at, updated_at`

// Get fetches an agent by id.
func (r *AgentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// GetActiveForUser returns the user's live agent, newest first when several exist.
func (r *AgentRepository) GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Agent, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE user_id = $1 AND status = 'live'
		 ORDER BY updated_at DESC
		 LIMIT 1`, userID)
	return scanAgent(row)
}

func scanAgent(row *sqlx.Row) (*domain.Agent, error) {
	var rec agentRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent repo: get: %w", err)
	}
	agent, err := rec.toDomain()
	if err != nil {
		return nil, fmt.Errorf("agent repo: decode: %w", err)
	}
	return agent, nil
}

type agentRecord struct {
	ID          uuid.UUID      `db:"id"`
	UserID      uuid.UUID      `db:"user_id"`
	Name        string         `db:"name"`
	Status      string         `db:"status"`
	PhoneNumber sql.NullString `db:"phone_number"`
	Conditions  []byte         `db:"conditions"`
	Schedule    []byte         `db:"schedule"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r agentRecord) toDomain() (*domain.Agent, error) {
	agent := &domain.Agent{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		Status:      domain.AgentStatus(r.Status),
		PhoneNumber: r.PhoneNumber.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if len(r.Conditions) > 0 {
		if err := json.Unmarshal(r.Conditions, &agent.Conditions); err != nil {
			return nil, fmt.Errorf("conditions: %w", err)
		}
	}
	if len(r.Schedule) > 0 {
		if err := json.Unmarshal(r.Schedule, &agent.Schedule); err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
	}
	return agent, nil
}
