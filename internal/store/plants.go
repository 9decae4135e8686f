// internal/store/plants.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// PlantStore is the plant-record provider backed by the same database
type PlantStore struct {
	*DB
}

// NewPlantStore creates a plant store on db
func NewPlantStore(db *DB) *PlantStore {
	return &PlantStore{DB: db}
}

// Add creates a plant. A zero care schedule is replaced with the default.
func (p *PlantStore) Add(ctx context.Context, name string, care protocol.CareSchedule) (*protocol.Plant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("plant name is required")
	}
	if care == (protocol.CareSchedule{}) {
		care = protocol.DefaultCareSchedule()
	}
	data, err := json.Marshal(care)
	if err != nil {
		return nil, err
	}

	now := p.stamp()
	plant := &protocol.Plant{
		ID:        uuid.NewString(),
		Name:      name,
		Care:      care,
		CreatedAt: parseTime(now),
		UpdatedAt: parseTime(now),
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO plants (id, name, care, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, plant.ID, plant.Name, string(data), now, now)
	if err != nil {
		return nil, &Error{Op: "add plant", Err: err}
	}
	return plant, nil
}

// Get returns a plant by id
func (p *PlantStore) Get(ctx context.Context, id string) (*protocol.Plant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, care, created_at, updated_at FROM plants WHERE id = ?
	`, id)
	plant, err := scanPlant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get plant", Err: err}
	}
	return plant, nil
}

// List returns every plant ordered by name
func (p *PlantStore) List(ctx context.Context) ([]*protocol.Plant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, care, created_at, updated_at FROM plants ORDER BY name, id
	`)
	if err != nil {
		return nil, &Error{Op: "list plants", Err: err}
	}
	defer rows.Close()

	var out []*protocol.Plant
	for rows.Next() {
		plant, err := scanPlant(rows)
		if err != nil {
			return nil, &Error{Op: "list plants", Err: err}
		}
		out = append(out, plant)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list plants", Err: err}
	}
	return out, nil
}

// Delete removes a plant. Its sessions are kept as history.
func (p *PlantStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM plants WHERE id = ?`, id)
	if err != nil {
		return &Error{Op: "delete plant", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Vitals returns the name and care requirements the kernel reasons over
func (p *PlantStore) Vitals(ctx context.Context, id string) (protocol.PlantVitals, error) {
	plant, err := p.Get(ctx, id)
	if err != nil {
		return protocol.PlantVitals{}, err
	}
	return plant.Vitals(), nil
}

func scanPlant(row rowScanner) (*protocol.Plant, error) {
	var plant protocol.Plant
	var care, createdAt, updatedAt string
	if err := row.Scan(&plant.ID, &plant.Name, &care, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(care), &plant.Care); err != nil {
		return nil, fmt.Errorf("decode care schedule for %s: %w", plant.ID, err)
	}
	plant.CreatedAt = parseTime(createdAt)
	plant.UpdatedAt = parseTime(updatedAt)
	return &plant, nil
}
