package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// ErrSlateNotFound is returned when a slate id has no stored drivers.
var ErrSlateNotFound = errors.New("slate not found")

// SlateStore loads the driver pool and constraint spec for a slate and saves
// constraint revisions.
type SlateStore interface {
	GetDrivers(ctx context.Context, slateID string) ([]types.DriverRecord, error)
	GetConstraints(ctx context.Context, slateID string) (*types.ConstraintSpec, error)
	SaveConstraints(ctx context.Context, spec *types.ConstraintSpec) error
}

// SlateDriver is the persisted driver row.
type SlateDriver struct {
	ID                 uint   `gorm:"primaryKey"`
	SlateID            string `gorm:"index;not null"`
	DriverID           int    `gorm:"not null"`
	DisplayID          string `gorm:"not null"`
	Name               string `gorm:"not null"`
	Team               string
	Salary             int
	ProjectedPoints    float64
	Skill              float64
	RecentForm         float64
	TrackArchetypeTag  string
	ProjectedOwnership *float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SlateConstraints stores the constraint spec as a JSON document, versioned
// by update time. The spec is small and read whole, so a document column
// beats per-rule rows.
type SlateConstraints struct {
	SlateID   string `gorm:"primaryKey"`
	Document  []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

// PostgresSlateStore is the gorm-backed SlateStore.
type PostgresSlateStore struct {
	db *DB
}

// NewPostgresSlateStore migrates the schema and returns a store.
func NewPostgresSlateStore(db *DB) (*PostgresSlateStore, error) {
	if err := db.AutoMigrate(&SlateDriver{}, &SlateConstraints{}); err != nil {
		return nil, fmt.Errorf("failed to migrate slate schema: %w", err)
	}
	return &PostgresSlateStore{db: db}, nil
}

// GetDrivers loads the slate's driver pool ordered by driver id.
func (s *PostgresSlateStore) GetDrivers(ctx context.Context, slateID string) ([]types.DriverRecord, error) {
	var rows []SlateDriver
	if err := s.db.WithContext(ctx).
		Where("slate_id = ?", slateID).
		Order("driver_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load drivers for slate %s: %w", slateID, err)
	}
	if len(rows) == 0 {
		return nil, ErrSlateNotFound
	}

	drivers := make([]types.DriverRecord, len(rows))
	for i, row := range rows {
		drivers[i] = types.DriverRecord{
			DriverID:           row.DriverID,
			DisplayID:          row.DisplayID,
			Name:               row.Name,
			Team:               row.Team,
			Salary:             row.Salary,
			ProjectedPoints:    row.ProjectedPoints,
			Skill:              row.Skill,
			RecentForm:         row.RecentForm,
			TrackArchetypeTag:  row.TrackArchetypeTag,
			ProjectedOwnership: row.ProjectedOwnership,
		}
	}
	return drivers, nil
}

// GetConstraints loads the slate's constraint spec, or an empty spec when
// none has been saved.
func (s *PostgresSlateStore) GetConstraints(ctx context.Context, slateID string) (*types.ConstraintSpec, error) {
	var row SlateConstraints
	err := s.db.WithContext(ctx).First(&row, "slate_id = ?", slateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.ConstraintSpec{SlateID: slateID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load constraints for slate %s: %w", slateID, err)
	}

	var spec types.ConstraintSpec
	if err := json.Unmarshal(row.Document, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal constraints for slate %s: %w", slateID, err)
	}
	return &spec, nil
}

// SaveConstraints upserts the slate's constraint document.
func (s *PostgresSlateStore) SaveConstraints(ctx context.Context, spec *types.ConstraintSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal constraints: %w", err)
	}
	row := SlateConstraints{SlateID: spec.SlateID, Document: doc, UpdatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save constraints for slate %s: %w", spec.SlateID, err)
	}
	return nil
}

// MemorySlateStore is a map-backed SlateStore for tests and databaseless
// runs.
type MemorySlateStore struct {
	mu          sync.RWMutex
	drivers     map[string][]types.DriverRecord
	constraints map[string]*types.ConstraintSpec
}

// NewMemorySlateStore returns an empty in-memory store.
func NewMemorySlateStore() *MemorySlateStore {
	return &MemorySlateStore{
		drivers:     make(map[string][]types.DriverRecord),
		constraints: make(map[string]*types.ConstraintSpec),
	}
}

// PutDrivers installs a slate's driver pool.
func (s *MemorySlateStore) PutDrivers(slateID string, drivers []types.DriverRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[slateID] = append([]types.DriverRecord(nil), drivers...)
}

// GetDrivers implements SlateStore.
func (s *MemorySlateStore) GetDrivers(_ context.Context, slateID string) ([]types.DriverRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drivers, ok := s.drivers[slateID]
	if !ok {
		return nil, ErrSlateNotFound
	}
	return append([]types.DriverRecord(nil), drivers...), nil
}

// GetConstraints implements SlateStore.
func (s *MemorySlateStore) GetConstraints(_ context.Context, slateID string) (*types.ConstraintSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if spec, ok := s.constraints[slateID]; ok {
		copied := *spec
		return &copied, nil
	}
	return &types.ConstraintSpec{SlateID: slateID}, nil
}

// SaveConstraints implements SlateStore.
func (s *MemorySlateStore) SaveConstraints(_ context.Context, spec *types.ConstraintSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *spec
	s.constraints[spec.SlateID] = &copied
	return nil
}
