package syncsvc

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/snapshot"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testNow
}

func openSyncTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "sync.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&groceries.Meal{},
		&groceries.GroceryList{},
		&groceries.GroceryListState{},
		&groceries.Recipe{},
		&groceries.Tag{},
		&groceries.CustomIngredient{},
		&groceries.PendingRecipe{},
		&groceries.StoreLocation{},
		&groceries.IngredientStore{},
		&groceries.Setting{},
		&Location{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB) *groceries.Store {
	t.Helper()
	store, err := groceries.NewStore(groceries.StoreConfig{Database: db, Clock: fixedClock})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func newTestRegistry(t *testing.T, db *gorm.DB) *Registry {
	t.Helper()
	registry, err := NewRegistry(db, fixedClock)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func seedMeals(t *testing.T, store *groceries.Store, names ...string) {
	t.Helper()
	for _, name := range names {
		meal := groceries.Meal{Name: name}
		if err := store.CreateMeal(context.Background(), &meal); err != nil {
			t.Fatalf("failed to seed meal %q: %v", name, err)
		}
	}
}

// presignedURL fabricates a URL whose X-Amz parameters say it was issued at
// issuedAt and stays valid for validSeconds.
func presignedURL(filename string, issuedAt time.Time, validSeconds int) string {
	return fmt.Sprintf("https://account.example/bucket/%s?X-Amz-Date=%s&X-Amz-Expires=%d&X-Amz-Signature=sig",
		filename, issuedAt.UTC().Format("20060102T150405Z"), validSeconds)
}

// snapshotBlob builds a well-formed transfer blob carrying only the named
// meals.
func snapshotBlob(t *testing.T, mealNames ...string) []byte {
	t.Helper()
	rows := make([]map[string]interface{}, 0, len(mealNames))
	for i, name := range mealNames {
		rows = append(rows, map[string]interface{}{
			"id":               i + 1,
			"name":             name,
			"ingredients_json": "[]",
			"created_at_s":     1,
			"updated_at_s":     1,
		})
	}
	snap := &snapshot.Snapshot{
		Format:  snapshot.FormatName,
		Version: snapshot.FormatVersion,
		Tables:  []snapshot.Table{{Name: "meals", Rows: rows}},
	}
	blob, err := snap.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}
	return blob
}

// fakeTransfer records calls and serves canned responses.
type fakeTransfer struct {
	uploadLocations   []string
	downloadLocations []string
	uploads           []fakeUpload
	downloads         []string

	uploadLocationURL   string
	uploadLocationErr   error
	downloadLocationURL string
	downloadLocationErr error
	uploadErr           error
	downloadBlob        []byte
	downloadErr         error
}

type fakeUpload struct {
	url         string
	data        []byte
	contentType string
}

func (f *fakeTransfer) RequestUploadLocation(ctx context.Context, fileName, contentType string) (string, error) {
	f.uploadLocations = append(f.uploadLocations, fileName)
	if f.uploadLocationErr != nil {
		return "", f.uploadLocationErr
	}
	return f.uploadLocationURL, nil
}

func (f *fakeTransfer) RequestDownloadLocation(ctx context.Context, fileName string) (string, error) {
	f.downloadLocations = append(f.downloadLocations, fileName)
	if f.downloadLocationErr != nil {
		return "", f.downloadLocationErr
	}
	return f.downloadLocationURL, nil
}

func (f *fakeTransfer) Upload(ctx context.Context, url string, data []byte, contentType string) error {
	f.uploads = append(f.uploads, fakeUpload{url: url, data: data, contentType: contentType})
	return f.uploadErr
}

func (f *fakeTransfer) Download(ctx context.Context, url string) ([]byte, error) {
	f.downloads = append(f.downloads, url)
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.downloadBlob, nil
}
