package syncsvc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/snapshot"
	"github.com/go-groceries/backend/internal/transfer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestOutbound(t *testing.T, store *groceries.Store, registry *Registry, transferClient TransferClient) *Outbound {
	t.Helper()
	outbound, err := NewOutbound(OutboundConfig{
		Store:    store,
		Registry: registry,
		Transfer: transferClient,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("failed to build outbound: %v", err)
	}
	return outbound
}

func TestSyncToCreatesLocationRecord(t *testing.T) {
	db := openSyncTestDB(t)
	store := newTestStore(t, db)
	registry := newTestRegistry(t, db)
	seedMeals(t, store, "Pasta", "Curry")

	transferClient := &fakeTransfer{
		uploadLocationURL:   "https://bucket.example/upload?sig=1",
		downloadLocationURL: presignedURL("generated.json", testNow, 86400),
	}
	outbound := newTestOutbound(t, store, registry, transferClient)

	url, err := outbound.SyncTo(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != transferClient.downloadLocationURL {
		t.Fatalf("unexpected read URL %q", url)
	}

	if len(transferClient.uploadLocations) != 1 || len(transferClient.uploads) != 1 || len(transferClient.downloadLocations) != 1 {
		t.Fatalf("expected upload-location, upload, download-location in sequence, got %d/%d/%d",
			len(transferClient.uploadLocations), len(transferClient.uploads), len(transferClient.downloadLocations))
	}
	if !strings.HasPrefix(transferClient.uploadLocations[0], "groceries_backup_") {
		t.Fatalf("unexpected generated filename %q", transferClient.uploadLocations[0])
	}
	if transferClient.uploadLocations[0] != transferClient.downloadLocations[0] {
		t.Fatalf("upload and download must target the same object")
	}

	snap, err := snapshot.Decode(transferClient.uploads[0].data)
	if err != nil {
		t.Fatalf("uploaded blob is not a valid snapshot: %v", err)
	}
	mealsTable := snap.Table("meals")
	if mealsTable == nil || len(mealsTable.Rows) != 2 {
		t.Fatalf("uploaded snapshot missing meals, got %+v", mealsTable)
	}

	stored, err := registry.Find(context.Background(), DirectionTo)
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	if stored == nil {
		t.Fatalf("expected a to-location record")
	}
	if stored.Automatic {
		t.Fatalf("manual sync must not mark the record automatic")
	}
	if stored.LastSyncedAtSeconds != testNow.Unix() {
		t.Fatalf("expected sync stamped, got %d", stored.LastSyncedAtSeconds)
	}
	if stored.ExpiresAtSeconds != testNow.Add(24*time.Hour).Unix() {
		t.Fatalf("expected expiry parsed from read URL, got %d", stored.ExpiresAtSeconds)
	}
}

func TestSyncToReusesExistingFilenameAndPreservesAutomatic(t *testing.T) {
	db := openSyncTestDB(t)
	store := newTestStore(t, db)
	registry := newTestRegistry(t, db)

	existing := &Location{
		Direction: string(DirectionTo),
		Filename:  "groceries_backup_fixed.json",
		URL:       presignedURL("groceries_backup_fixed.json", testNow.Add(-time.Hour), 60),
		Automatic: true,
	}
	if err := registry.Create(context.Background(), existing); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	transferClient := &fakeTransfer{
		uploadLocationURL:   "https://bucket.example/upload?sig=1",
		downloadLocationURL: presignedURL("groceries_backup_fixed.json", testNow, 86400),
	}
	outbound := newTestOutbound(t, store, registry, transferClient)

	if _, err := outbound.SyncTo(context.Background(), existing, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transferClient.uploadLocations[0] != "groceries_backup_fixed.json" {
		t.Fatalf("expected filename reuse, got %q", transferClient.uploadLocations[0])
	}

	stored, err := registry.Find(context.Background(), DirectionTo)
	if err != nil {
		t.Fatalf("failed to reload location: %v", err)
	}
	if stored.ID != existing.ID {
		t.Fatalf("expected update in place, got new record %d", stored.ID)
	}
	if !stored.Automatic {
		t.Fatalf("update must preserve the stored automatic flag")
	}
}

func TestSyncToWarnsOnUnparseableReadURL(t *testing.T) {
	db := openSyncTestDB(t)
	store := newTestStore(t, db)
	registry := newTestRegistry(t, db)
	seedMeals(t, store, "Pasta")

	transferClient := &fakeTransfer{
		uploadLocationURL:   "https://bucket.example/upload?sig=1",
		downloadLocationURL: "https://bucket.example/plain.json",
	}
	core, logs := observer.New(zapcore.WarnLevel)
	outbound, err := NewOutbound(OutboundConfig{
		Store:    store,
		Registry: registry,
		Transfer: transferClient,
		Clock:    fixedClock,
		Logger:   zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to build outbound: %v", err)
	}

	if _, err := outbound.SyncTo(context.Background(), nil, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	location, err := registry.Find(context.Background(), DirectionTo)
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	if location == nil || location.ExpiresAtSeconds != 0 {
		t.Fatalf("expected the record stored without an expiry, got %+v", location)
	}
	if logs.FilterMessageSnippet("no parseable expiry").Len() != 1 {
		t.Fatalf("expected one expiry warning, got %d", logs.Len())
	}
}

func TestSyncToFailureLeavesRecordUntouched(t *testing.T) {
	db := openSyncTestDB(t)
	store := newTestStore(t, db)
	registry := newTestRegistry(t, db)

	originalURL := presignedURL("groceries_backup_fixed.json", testNow.Add(-time.Hour), 7200)
	existing := &Location{
		Direction:           string(DirectionTo),
		Filename:            "groceries_backup_fixed.json",
		URL:                 originalURL,
		LastSyncedAtSeconds: 1700000000,
	}
	if err := registry.Create(context.Background(), existing); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	transferClient := &fakeTransfer{
		uploadLocationURL: "https://bucket.example/upload?sig=1",
		uploadErr:         &transfer.TransferError{StatusCode: 500, Status: "500 boom"},
	}
	outbound := newTestOutbound(t, store, registry, transferClient)

	if _, err := outbound.SyncTo(context.Background(), existing, false); err == nil {
		t.Fatalf("expected upload failure to surface")
	}

	stored, err := registry.Find(context.Background(), DirectionTo)
	if err != nil {
		t.Fatalf("failed to reload location: %v", err)
	}
	if stored.URL != originalURL || stored.LastSyncedAtSeconds != 1700000000 {
		t.Fatalf("failed cycle must not modify the record, got %+v", stored)
	}
}

func TestAutoSyncToSkipsWhenNotConfigured(t *testing.T) {
	db := openSyncTestDB(t)
	outbound := newTestOutbound(t, newTestStore(t, db), newTestRegistry(t, db), &fakeTransfer{})

	result, err := outbound.CheckAndTriggerAutoSyncTo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result without a location, got %+v", result)
	}
}

func TestAutoSyncToReportsNoSyncWhenRecent(t *testing.T) {
	db := openSyncTestDB(t)
	registry := newTestRegistry(t, db)
	location := &Location{
		Direction:           string(DirectionTo),
		Filename:            "groceries_backup_fixed.json",
		URL:                 presignedURL("groceries_backup_fixed.json", testNow, 3600),
		Automatic:           true,
		LastSyncedAtSeconds: testNow.Add(-30 * time.Minute).Unix(),
	}
	if err := registry.Create(context.Background(), location); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	transferClient := &fakeTransfer{}
	outbound := newTestOutbound(t, newTestStore(t, db), registry, transferClient)

	result, err := outbound.CheckAndTriggerAutoSyncTo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || result.Type != OutcomeNoSync {
		t.Fatalf("expected NO_SYNC, got %+v", result)
	}
	if len(transferClient.uploads) != 0 {
		t.Fatalf("recent sync must not upload")
	}
}

func TestAutoSyncToRunsAfterGapElapses(t *testing.T) {
	db := openSyncTestDB(t)
	store := newTestStore(t, db)
	registry := newTestRegistry(t, db)
	seedMeals(t, store, "Pasta")

	location := &Location{
		Direction:           string(DirectionTo),
		Filename:            "groceries_backup_fixed.json",
		URL:                 presignedURL("groceries_backup_fixed.json", testNow.Add(-2*time.Hour), 3600),
		Automatic:           true,
		LastSyncedAtSeconds: testNow.Add(-90 * time.Minute).Unix(),
	}
	if err := registry.Create(context.Background(), location); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	transferClient := &fakeTransfer{
		uploadLocationURL:   "https://bucket.example/upload?sig=1",
		downloadLocationURL: presignedURL("groceries_backup_fixed.json", testNow, 86400),
	}
	outbound := newTestOutbound(t, store, registry, transferClient)

	result, err := outbound.CheckAndTriggerAutoSyncTo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || result.Type != OutcomeSuccess || result.URL == "" {
		t.Fatalf("expected SUCCESS with URL, got %+v", result)
	}
	if len(transferClient.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(transferClient.uploads))
	}

	stored, err := registry.Find(context.Background(), DirectionTo)
	if err != nil {
		t.Fatalf("failed to reload location: %v", err)
	}
	if stored.LastSyncedAtSeconds != testNow.Unix() {
		t.Fatalf("expected sync stamped, got %d", stored.LastSyncedAtSeconds)
	}
	if !stored.Automatic {
		t.Fatalf("automatic flag must survive the cycle")
	}
}

func TestAutoSyncToConvertsFailuresToErrorOutcome(t *testing.T) {
	db := openSyncTestDB(t)
	registry := newTestRegistry(t, db)
	location := &Location{
		Direction:           string(DirectionTo),
		Filename:            "groceries_backup_fixed.json",
		URL:                 presignedURL("groceries_backup_fixed.json", testNow, 3600),
		Automatic:           true,
		LastSyncedAtSeconds: testNow.Add(-90 * time.Minute).Unix(),
	}
	if err := registry.Create(context.Background(), location); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	transferClient := &fakeTransfer{uploadLocationErr: &transfer.UpstreamError{StatusCode: 502, Message: "boom"}}
	outbound := newTestOutbound(t, newTestStore(t, db), registry, transferClient)

	result, err := outbound.CheckAndTriggerAutoSyncTo(context.Background())
	if err != nil {
		t.Fatalf("automatic check must not surface raw errors, got %v", err)
	}
	if result == nil || result.Type != OutcomeError {
		t.Fatalf("expected ERROR outcome, got %+v", result)
	}
}
