package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/snapshot"
	"github.com/go-groceries/backend/internal/transfer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const backupFilenamePrefix = "groceries_backup_"

// OutboundConfig configures an Outbound controller.
type OutboundConfig struct {
	Store    *groceries.Store
	Registry *Registry
	Transfer TransferClient
	Clock    func() time.Time
	// AutoSyncMinimum overrides the one-hour automatic gate (tests).
	AutoSyncMinimum time.Duration
	Logger          *zap.Logger
}

// Outbound runs sync-to cycles: snapshot the live store, upload it, obtain a
// durable read URL and persist the new location record. The four network
// calls run strictly in sequence with no internal retries; a failure at any
// step leaves the prior location record untouched.
type Outbound struct {
	store    *groceries.Store
	registry *Registry
	transfer TransferClient
	clock    func() time.Time
	minGap   time.Duration
	log      *zap.Logger
}

// NewOutbound validates the configuration and returns an Outbound controller.
func NewOutbound(cfg OutboundConfig) (*Outbound, error) {
	if cfg.Store == nil {
		return nil, errors.New("syncsvc: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("syncsvc: registry is required")
	}
	if cfg.Transfer == nil {
		return nil, errors.New("syncsvc: transfer client is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	minGap := cfg.AutoSyncMinimum
	if minGap <= 0 {
		minGap = defaultAutoSyncMinimum
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbound{
		store:    cfg.Store,
		registry: cfg.Registry,
		transfer: cfg.Transfer,
		clock:    clock,
		minGap:   minGap,
		log:      logger,
	}, nil
}

// SyncTo runs one outbound cycle and returns the fresh read URL. When an
// existing location record is supplied its filename is reused so the remote
// object is overwritten in place; otherwise a unique name is generated and a
// new record created with the given automatic flag. On update the stored
// automatic flag is preserved.
func (o *Outbound) SyncTo(ctx context.Context, existing *Location, automatic bool) (string, error) {
	snap, err := snapshot.Encode(o.store.DB().WithContext(ctx))
	if err != nil {
		return "", err
	}
	blob, err := snap.Marshal()
	if err != nil {
		return "", err
	}

	filename := backupFilenamePrefix + uuid.NewString()
	if existing != nil {
		filename = existing.Filename
	}

	uploadURL, err := o.transfer.RequestUploadLocation(ctx, filename, transfer.ContentTypeJSON)
	if err != nil {
		return "", fmt.Errorf("requesting upload location: %w", err)
	}
	if err := o.transfer.Upload(ctx, uploadURL, blob, transfer.ContentTypeJSON); err != nil {
		return "", fmt.Errorf("uploading snapshot: %w", err)
	}
	readURL, err := o.transfer.RequestDownloadLocation(ctx, filename)
	if err != nil {
		return "", fmt.Errorf("requesting read location: %w", err)
	}

	now := o.clock().UTC()
	expiresAt := int64(0)
	if info, err := transfer.ParsePresignedURL(readURL); err == nil {
		expiresAt = info.ExpiresAt.UTC().Unix()
	} else {
		o.log.Warn("read URL carries no parseable expiry, storing without one",
			zap.String("filename", filename),
			zap.Error(err))
	}

	if existing != nil {
		existing.Filename = filename
		existing.URL = readURL
		existing.ExpiresAtSeconds = expiresAt
		existing.LastSyncedAtSeconds = now.Unix()
		if err := o.registry.Save(ctx, existing); err != nil {
			return "", err
		}
	} else {
		location := &Location{
			Direction:           string(DirectionTo),
			Filename:            filename,
			URL:                 readURL,
			ExpiresAtSeconds:    expiresAt,
			LastSyncedAtSeconds: now.Unix(),
			Automatic:           automatic,
		}
		if err := o.registry.Create(ctx, location); err != nil {
			return "", err
		}
	}

	o.log.Info("outbound sync completed",
		zap.String("filename", filename),
		zap.Bool("automatic", automatic),
		zap.Int("blob_bytes", len(blob)))
	return readURL, nil
}

// AutoSyncToResult is the structured outcome of an automatic outbound check.
type AutoSyncToResult struct {
	Type Outcome
	URL  string
}

// CheckAndTriggerAutoSyncTo mirrors the inbound gating contract for the
// outbound direction: nil when not configured for automatic sync, NO_SYNC
// when the last sync is too fresh, otherwise one SyncTo cycle whose failure
// is reported as an ERROR outcome rather than an error.
func (o *Outbound) CheckAndTriggerAutoSyncTo(ctx context.Context) (*AutoSyncToResult, error) {
	location, err := o.registry.Find(ctx, DirectionTo)
	if err != nil {
		return nil, err
	}
	if location == nil || !location.Automatic || location.LastSyncedAtSeconds == 0 {
		return nil, nil
	}

	lastSynced := time.Unix(location.LastSyncedAtSeconds, 0)
	if o.clock().Sub(lastSynced) <= o.minGap {
		return &AutoSyncToResult{Type: OutcomeNoSync}, nil
	}

	o.log.Info("automatic sync-to triggered",
		zap.Time("last_synced_at", lastSynced.UTC()))

	url, err := o.SyncTo(ctx, location, true)
	if err != nil {
		o.log.Warn("automatic sync-to failed", zap.Error(err))
		return &AutoSyncToResult{Type: OutcomeError}, nil
	}
	return &AutoSyncToResult{Type: OutcomeSuccess, URL: url}, nil
}
