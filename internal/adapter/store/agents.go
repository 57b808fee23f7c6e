package store

import (
	"context"
	"encoding/json"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

const agentColumns = `endpoint_path, agent_id, display_name, description, instructions,
	indicators, priority, model, temperature, created_at, updated_at`

// ListAgents returns every stored descriptor in insertion order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.AgentDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY rowid")
	if err != nil {
		return nil, storageErr("SQLiteStore.ListAgents", err)
	}
	defer rows.Close()

	var agents []domain.AgentDescriptor
	for rows.Next() {
		d, err := scanAgent(rows)
		if err != nil {
			return nil, storageErr("SQLiteStore.ListAgents", err)
		}
		agents = append(agents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("SQLiteStore.ListAgents", err)
	}
	return agents, nil
}

// SaveAgent inserts d or replaces the row with the same endpoint path.
// A replaced row keeps its position and created_at.
func (s *SQLiteStore) SaveAgent(ctx context.Context, d domain.AgentDescriptor) error {
	indicators, err := json.Marshal(nonNil(d.Indicators))
	if err != nil {
		return storageErr("SQLiteStore.SaveAgent", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint_path) DO UPDATE SET
			agent_id = excluded.agent_id,
			display_name = excluded.display_name,
			description = excluded.description,
			instructions = excluded.instructions,
			indicators = excluded.indicators,
			priority = excluded.priority,
			model = excluded.model,
			temperature = excluded.temperature,
			updated_at = excluded.updated_at`,
		d.EndpointPath, d.AgentID, d.DisplayName, d.Description, d.Instructions,
		string(indicators), d.Priority, d.Model, d.Temperature,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return storageErr("SQLiteStore.SaveAgent", err)
	}
	return nil
}

// DeleteAgent removes the descriptor for endpointPath and reports whether
// a row existed.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, endpointPath string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE endpoint_path = ?", endpointPath)
	if err != nil {
		return false, storageErr("SQLiteStore.DeleteAgent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("SQLiteStore.DeleteAgent", err)
	}
	return n > 0, nil
}

// ClearAgents removes every stored descriptor. Used by a forced reseed.
func (s *SQLiteStore) ClearAgents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agents"); err != nil {
		return storageErr("SQLiteStore.ClearAgents", err)
	}
	return nil
}

func scanAgent(row scanner) (domain.AgentDescriptor, error) {
	var (
		d                domain.AgentDescriptor
		indicators       string
		created, updated string
	)
	err := row.Scan(&d.EndpointPath, &d.AgentID, &d.DisplayName, &d.Description, &d.Instructions,
		&indicators, &d.Priority, &d.Model, &d.Temperature, &created, &updated)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(indicators), &d.Indicators); err != nil {
		return d, err
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
