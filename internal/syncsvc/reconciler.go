package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/snapshot"
	"github.com/go-groceries/backend/internal/transfer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// refreshThreshold is how close to expiry a location URL may get before a
// fetch proactively re-requests it.
const refreshThreshold = 60 * time.Second

// defaultAutoSyncMinimum gates automatic cycles: no automatic sync fires
// while the last successful sync is more recent than this.
const defaultAutoSyncMinimum = time.Hour

// TransferClient is the slice of the object transfer client the controllers
// need; *transfer.Client satisfies it.
type TransferClient interface {
	RequestUploadLocation(ctx context.Context, fileName, contentType string) (string, error)
	RequestDownloadLocation(ctx context.Context, fileName string) (string, error)
	Upload(ctx context.Context, url string, data []byte, contentType string) error
	Download(ctx context.Context, url string) ([]byte, error)
}

// Outcome classifies the result of an automatic sync check.
type Outcome string

const (
	OutcomeSuccess    Outcome = "SUCCESS"
	OutcomeError      Outcome = "ERROR"
	OutcomeRecentSync Outcome = "RECENT_SYNC"
	OutcomeNoSync     Outcome = "NO_SYNC"
)

// FetchResult is one fetched remote snapshot plus its diff against the live
// store. When the diff is empty the blob may be committed silently; otherwise
// the caller must confirm before Commit.
type FetchResult struct {
	Blob []byte
	Diff MealDiff
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Store      *groceries.Store
	Registry   *Registry
	Transfer   TransferClient
	Clock      func() time.Time
	ScratchDir string
	// AutoSyncMinimum overrides the one-hour automatic gate (tests).
	AutoSyncMinimum time.Duration
	Logger          *zap.Logger
}

// Reconciler runs inbound (sync-from) cycles: refresh the location URL if it
// is about to expire, fetch the remote blob, diff it against local state in a
// scratch store, and commit on request.
type Reconciler struct {
	store      *groceries.Store
	registry   *Registry
	transfer   TransferClient
	clock      func() time.Time
	scratchDir string
	minGap     time.Duration
	log        *zap.Logger

	// commitMu serializes destructive commits; overlapping manual and
	// automatic cycles must never interleave their clear+apply steps.
	commitMu sync.Mutex
}

// NewReconciler validates the configuration and returns a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
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
	return &Reconciler{
		store:      cfg.Store,
		registry:   cfg.Registry,
		transfer:   cfg.Transfer,
		clock:      clock,
		scratchDir: cfg.ScratchDir,
		minGap:     minGap,
		log:        logger,
	}, nil
}

// SyncFrom performs one fetch-and-diff cycle. It does not commit; the caller
// decides based on the diff. The scratch store used for diffing is disposed
// before returning on every path.
func (r *Reconciler) SyncFrom(ctx context.Context) (*FetchResult, error) {
	location, err := r.registry.Find(ctx, DirectionFrom)
	if err != nil {
		return nil, err
	}
	if location == nil || location.URL == "" || location.Filename == "" {
		return nil, &ConfigError{Reason: "no sync-from location configured"}
	}

	info, err := transfer.ParsePresignedURL(location.URL)
	if err != nil {
		return nil, &ConfigError{Reason: "stored location URL is unusable", Err: err}
	}

	currentURL := location.URL
	if info.SecondsRemaining(r.clock()) < int64(refreshThreshold/time.Second) {
		r.log.Info("location URL expiring soon, requesting a fresh one",
			zap.String("filename", location.Filename))
		freshURL, err := r.transfer.RequestDownloadLocation(ctx, location.Filename)
		if err != nil {
			var notFound *transfer.NotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("file not found at sync location %s: %w", location.Filename, err)
			}
			return nil, err
		}
		freshInfo, err := transfer.ParsePresignedURL(freshURL)
		if err != nil {
			return nil, &ConfigError{Reason: "refreshed location URL is unusable", Err: err}
		}
		if err := r.registry.UpdateURL(ctx, location.ID, freshURL, freshInfo.ExpiresAt); err != nil {
			return nil, err
		}
		currentURL = freshURL
	}

	blob, err := r.transfer.Download(ctx, currentURL)
	if err != nil {
		var notFound *transfer.NotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("file not found at sync location %s: %w", location.Filename, err)
		}
		return nil, err
	}

	diff, err := r.diffAgainstLive(ctx, blob)
	if err != nil {
		return nil, err
	}

	return &FetchResult{Blob: blob, Diff: diff}, nil
}

func (r *Reconciler) diffAgainstLive(ctx context.Context, blob []byte) (MealDiff, error) {
	scratch, err := snapshot.MaterializeScratch(blob, r.scratchDir)
	if err != nil {
		return MealDiff{}, err
	}
	defer scratch.Dispose()

	incoming, err := scratch.Meals()
	if err != nil {
		return MealDiff{}, err
	}
	current, err := r.store.ListMeals(ctx)
	if err != nil {
		return MealDiff{}, err
	}
	return DiffMeals(current, incoming), nil
}

// Commit replaces the live store's allow-listed tables with the snapshot in
// one transaction and records the sync timestamp. Commits serialize: a second
// cycle blocks until the first finishes rather than interleaving.
func (r *Reconciler) Commit(ctx context.Context, blob []byte) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	snap, err := snapshot.Decode(blob)
	if err != nil {
		return err
	}

	err = r.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return snapshot.Apply(tx, snap)
	})
	if err != nil {
		return err
	}

	location, err := r.registry.Find(ctx, DirectionFrom)
	if err != nil {
		return err
	}
	if location != nil {
		if err := r.registry.RecordSync(ctx, location.ID, r.clock()); err != nil {
			return err
		}
	}

	r.log.Info("remote snapshot committed",
		zap.Int("tables", len(snap.Tables)))
	return nil
}

// AutoSyncResult is the structured outcome of an automatic inbound check.
type AutoSyncResult struct {
	Outcome Outcome
	// Fetch is set on SUCCESS. A non-empty diff means the commit is still
	// pending user confirmation.
	Fetch *FetchResult
	// Committed reports whether an empty-diff auto-commit already ran.
	Committed bool
}

// CheckAndTriggerAutoSync runs one automatic inbound cycle when due. It
// returns nil when no automatic sync-from location is configured, a
// RECENT_SYNC outcome when the last sync is too fresh, and an ERROR outcome
// (never a raw error) when the cycle itself fails, so automatic callers can
// report without crashing. An empty diff is committed immediately; a
// non-empty diff is returned for confirmation.
func (r *Reconciler) CheckAndTriggerAutoSync(ctx context.Context) (*AutoSyncResult, error) {
	location, err := r.registry.Find(ctx, DirectionFrom)
	if err != nil {
		return nil, err
	}
	if location == nil || !location.Automatic || location.LastSyncedAtSeconds == 0 {
		return nil, nil
	}

	lastSynced := time.Unix(location.LastSyncedAtSeconds, 0)
	if r.clock().Sub(lastSynced) <= r.minGap {
		return &AutoSyncResult{Outcome: OutcomeRecentSync}, nil
	}

	r.log.Info("automatic sync-from triggered",
		zap.Time("last_synced_at", lastSynced.UTC()))

	fetch, err := r.SyncFrom(ctx)
	if err != nil {
		r.log.Warn("automatic sync-from failed", zap.Error(err))
		return &AutoSyncResult{Outcome: OutcomeError}, nil
	}

	result := &AutoSyncResult{Outcome: OutcomeSuccess, Fetch: fetch}
	if fetch.Diff.Empty() {
		if err := r.Commit(ctx, fetch.Blob); err != nil {
			r.log.Warn("automatic commit failed", zap.Error(err))
			return &AutoSyncResult{Outcome: OutcomeError}, nil
		}
		result.Committed = true
	}
	return result, nil
}
