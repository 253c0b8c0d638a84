// Package snapshot serializes the live store into a portable, versioned blob
// and applies such blobs back, filtered to the fixed table allow list.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

const (
	// FormatName identifies the transfer format.
	FormatName = "groceries-export"
	// FormatVersion is written on every export. Imports tolerate other
	// versions; cross-version recovery favors availability over strictness.
	FormatVersion = 1
)

// AllowedTables is the fixed set of table names eligible for export and
// import. Device-local tables (settings, sync_locations) never travel.
var AllowedTables = []string{
	"meals",
	"grocery_lists",
	"grocery_list_states",
	"recipes",
	"tags",
	"custom_ingredients",
	"pending_recipes",
	"stores",
	"ingredient_stores",
}

var allowedTableSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(AllowedTables))
	for _, name := range AllowedTables {
		set[name] = struct{}{}
	}
	return set
}()

// TableAllowed reports whether a table participates in sync.
func TableAllowed(name string) bool {
	_, ok := allowedTableSet[name]
	return ok
}

// DecodeError indicates a corrupt or unreadable snapshot blob.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Table is one (name, rows) pair inside a snapshot. Rows are kept as raw
// objects so schema drift between app versions does not break decoding.
type Table struct {
	Name string                   `json:"name"`
	Rows []map[string]interface{} `json:"rows"`
}

// Snapshot is an immutable, ordered collection of allow-listed tables plus a
// format marker. It is produced by Encode or Decode and never mutated.
type Snapshot struct {
	Format  string  `json:"format"`
	Version int     `json:"version"`
	Tables  []Table `json:"tables"`
}

// Table returns the named table, or nil when the snapshot does not carry it.
func (s *Snapshot) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Encode reads every allow-listed table from the database into a snapshot.
// The source database is not modified.
func Encode(db *gorm.DB) (*Snapshot, error) {
	snap := &Snapshot{Format: FormatName, Version: FormatVersion}
	for _, tableName := range AllowedTables {
		var rows []map[string]interface{}
		if err := db.Table(tableName).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("export table %s: %w", tableName, err)
		}
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		snap.Tables = append(snap.Tables, Table{Name: tableName, Rows: rows})
	}
	return snap, nil
}

// Marshal renders a snapshot into its transfer blob.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a transfer blob into a snapshot, dropping tables that are not
// on the allow list. Unknown format versions are accepted as-is: blobs may
// originate from a newer or older build of the app and best-effort import is
// the deliberate contract. Malformed JSON is a DecodeError.
func Decode(blob []byte) (*Snapshot, error) {
	if len(blob) == 0 {
		return nil, &DecodeError{Reason: "empty blob"}
	}
	var raw Snapshot
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if raw.Format == "" {
		return nil, &DecodeError{Reason: "missing format marker"}
	}

	filtered := &Snapshot{Format: raw.Format, Version: raw.Version}
	for _, table := range raw.Tables {
		if !TableAllowed(table.Name) {
			continue
		}
		if table.Rows == nil {
			table.Rows = []map[string]interface{}{}
		}
		filtered.Tables = append(filtered.Tables, table)
	}
	return filtered, nil
}

// Apply clears every allow-listed table and bulk-inserts the snapshot's rows.
// The caller supplies the transaction; commit must be all-or-nothing so a
// mid-commit crash cannot leave the store partially cleared. Rows are fitted
// to the destination schema before insert: columns the local build does not
// have are dropped, and a primary key whose shape does not match the local
// column is reassigned rather than failing the import. Blobs from newer or
// older app versions stay importable.
func Apply(tx *gorm.DB, snap *Snapshot) error {
	for _, tableName := range AllowedTables {
		if err := tx.Exec("DELETE FROM " + tableName).Error; err != nil {
			return fmt.Errorf("clear table %s: %w", tableName, err)
		}
	}
	for _, table := range snap.Tables {
		if !TableAllowed(table.Name) {
			continue
		}
		if len(table.Rows) == 0 {
			continue
		}
		columns, err := tableColumns(tx, table.Name)
		if err != nil {
			return err
		}
		for _, row := range table.Rows {
			fitted := fitRow(row, columns)
			if len(fitted) == 0 {
				continue
			}
			if err := tx.Table(table.Name).Create(fitted).Error; err != nil {
				return fmt.Errorf("apply row into %s: %w", table.Name, err)
			}
		}
	}
	return nil
}

// columnProfile captures what row fitting needs to know about one
// destination column.
type columnProfile struct {
	primaryKey bool
	integer    bool
}

func tableColumns(tx *gorm.DB, tableName string) (map[string]columnProfile, error) {
	columnTypes, err := tx.Migrator().ColumnTypes(tableName)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", tableName, err)
	}
	columns := make(map[string]columnProfile, len(columnTypes))
	for _, column := range columnTypes {
		primaryKey, _ := column.PrimaryKey()
		columns[column.Name()] = columnProfile{
			primaryKey: primaryKey,
			integer:    strings.Contains(strings.ToUpper(column.DatabaseTypeName()), "INT"),
		}
	}
	return columns, nil
}

// fitRow trims a decoded row to the columns the destination table actually
// has. An integer primary key that cannot be read as an integer is dropped so
// the local store assigns a fresh one; everything else passes through as-is.
func fitRow(row map[string]interface{}, columns map[string]columnProfile) map[string]interface{} {
	fitted := make(map[string]interface{}, len(row))
	for key, value := range row {
		column, ok := columns[key]
		if !ok {
			continue
		}
		if column.primaryKey && column.integer {
			coerced, ok := asInteger(value)
			if !ok {
				continue
			}
			value = coerced
		}
		fitted[key] = value
	}
	return fitted
}

func asInteger(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint64:
		return int64(v), true
	case json.Number:
		parsed, err := v.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
