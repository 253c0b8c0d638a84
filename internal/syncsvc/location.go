// Package syncsvc implements the local-first sync pipeline: the remote
// location registry, the meal diff engine, the inbound reconciliation
// controller, the outbound sync controller and the debounce scheduler.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Direction distinguishes the outbound (to) and inbound (from) sync records.
type Direction string

const (
	// DirectionTo is the outbound backup destination.
	DirectionTo Direction = "to"
	// DirectionFrom is the inbound restore source.
	DirectionFrom Direction = "from"
)

// ConfigError indicates missing or unusable local sync configuration. The
// caller cannot retry without user action.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync config: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sync config: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Location is the persisted record of where one direction's remote object
// lives. At most one record per direction is honored; lookups take the first
// match by id.
type Location struct {
	ID                  uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Direction           string `gorm:"column:direction;size:8;not null;index:idx_sync_locations_direction"`
	Filename            string `gorm:"column:filename;size:190;not null"`
	URL                 string `gorm:"column:url;type:text;not null"`
	ExpiresAtSeconds    int64  `gorm:"column:expires_at_s"`
	LastSyncedAtSeconds int64  `gorm:"column:last_synced_at_s"`
	Automatic           bool   `gorm:"column:automatic;not null;default:false"`
	Alias               string `gorm:"column:alias;size:190"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Location) TableName() string {
	return "sync_locations"
}

// Registry persists location records. It lives in the same database as the
// live store but its table is excluded from snapshots.
type Registry struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRegistry returns a Registry over the given database handle.
func NewRegistry(db *gorm.DB, clock func() time.Time) (*Registry, error) {
	if db == nil {
		return nil, errors.New("syncsvc: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Registry{db: db, clock: clock}, nil
}

// Find returns the first location record for the direction, or nil when the
// direction has never been configured.
func (r *Registry) Find(ctx context.Context, direction Direction) (*Location, error) {
	var location Location
	err := r.db.WithContext(ctx).
		Where("direction = ?", string(direction)).
		Order("id").
		First(&location).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &location, nil
}

// Create inserts a fresh location record for the direction.
func (r *Registry) Create(ctx context.Context, location *Location) error {
	location.CreatedAtSeconds = r.clock().UTC().Unix()
	return r.db.WithContext(ctx).Create(location).Error
}

// Save persists every field of an existing record.
func (r *Registry) Save(ctx context.Context, location *Location) error {
	return r.db.WithContext(ctx).Save(location).Error
}

// UpdateURL records a freshly issued access URL and its expiry.
func (r *Registry) UpdateURL(ctx context.Context, locationID uint, url string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Location{}).
		Where("id = ?", locationID).
		Updates(map[string]interface{}{
			"url":          url,
			"expires_at_s": expiresAt.UTC().Unix(),
		}).Error
}

// RecordSync stamps a successful sync for the record.
func (r *Registry) RecordSync(ctx context.Context, locationID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Location{}).
		Where("id = ?", locationID).
		Update("last_synced_at_s", at.UTC().Unix()).Error
}

// SetAutomatic toggles automatic sync for the record.
func (r *Registry) SetAutomatic(ctx context.Context, locationID uint, automatic bool) error {
	return r.db.WithContext(ctx).
		Model(&Location{}).
		Where("id = ?", locationID).
		Update("automatic", automatic).Error
}

// SetAlias renames the human alias for the record.
func (r *Registry) SetAlias(ctx context.Context, locationID uint, alias string) error {
	return r.db.WithContext(ctx).
		Model(&Location{}).
		Where("id = ?", locationID).
		Update("alias", alias).Error
}
