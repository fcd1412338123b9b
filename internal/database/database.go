// Package database provides SQLite database operations for the application
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"addonsync/pkg/models"

	_ "modernc.org/sqlite"
)

// schemaVersion marks the unified layout. Older cache files are dropped and
// rebuilt from the remote catalog on the next sync.
const schemaVersion = 1

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside
// or outside the sync transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	// Add connection parameters to help with concurrent access
	connString := dbPath
	if dbPath != ":memory:" {
		connString = dbPath + "?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL"
	}

	conn, err := sql.Open("sqlite", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables, resetting the cache when the
// stored schema version is older than the current layout.
func (db *DB) initSchema() error {
	if _, err := db.conn.Exec(`
	CREATE TABLE IF NOT EXISTS metadata (
		id INTEGER PRIMARY KEY,
		last_fetch_time INTEGER DEFAULT 0,
		schema_version INTEGER DEFAULT 0
	)`); err != nil {
		return err
	}
	if _, err := db.conn.Exec(
		"INSERT INTO metadata (id, last_fetch_time, schema_version) SELECT 1, 0, 0 WHERE NOT EXISTS (SELECT 1 FROM metadata WHERE id = 1)",
	); err != nil {
		return err
	}

	var current int64
	if err := db.conn.QueryRow("SELECT schema_version FROM metadata WHERE id = 1").Scan(&current); err != nil {
		return err
	}
	if current < schemaVersion {
		// The store is a cache of remote truth; dropping it only forces a
		// refetch, never data loss.
		if _, err := db.conn.Exec("DROP TABLE IF EXISTS downloads"); err != nil {
			return err
		}
		if _, err := db.conn.Exec("DROP TABLE IF EXISTS manifest_cache"); err != nil {
			return err
		}
		if _, err := db.conn.Exec("UPDATE metadata SET last_fetch_time = 0, schema_version = ? WHERE id = 1", schemaVersion); err != nil {
			return err
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		resource_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		category_id INTEGER,
		title TEXT,
		version_remote INTEGER,
		version_local INTEGER DEFAULT 0,
		filename TEXT,
		url TEXT,
		hash TEXT,
		is_special BOOLEAN DEFAULT 0,
		is_watching BOOLEAN DEFAULT 0,
		is_licensed BOOLEAN DEFAULT 0,
		UNIQUE(resource_id, parent_id)
	);

	CREATE TABLE IF NOT EXISTS manifest_cache (
		id INTEGER PRIMARY KEY,
		fetched_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	if err := db.normalizeParentIDs(); err != nil {
		return err
	}

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_downloads_roots ON downloads(parent_id, resource_id);
	CREATE INDEX IF NOT EXISTS idx_downloads_flags ON downloads(parent_id, is_watching, is_special, is_licensed);
	`
	_, err := db.conn.Exec(indexes)
	return err
}

// normalizeParentIDs coalesces legacy NULL parent ids to 0 and removes the
// duplicate roots SQLite's NULL uniqueness behavior allowed before the
// unique index can apply.
func (db *DB) normalizeParentIDs() error {
	if _, err := db.conn.Exec(`
	DELETE FROM downloads
	WHERE rowid NOT IN (
		SELECT MIN(rowid)
		FROM downloads
		GROUP BY resource_id, COALESCE(parent_id, 0)
	)`); err != nil {
		return err
	}
	_, err := db.conn.Exec("UPDATE downloads SET parent_id = 0 WHERE parent_id IS NULL")
	return err
}

// Tx wraps an open sync transaction.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a transaction for the ingest/reconcile/queue sequence.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// UpsertResource inserts or refreshes one tracked row by its natural key.
// version_local is deliberately left alone: only a confirmed download may
// advance it.
func (t *Tx) UpsertResource(ctx context.Context, record *models.DownloadRecord) error {
	query := `
	INSERT INTO downloads (
		resource_id, parent_id, category_id, title,
		version_remote, filename, url, hash,
		is_special, is_watching, is_licensed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(resource_id, parent_id) DO UPDATE SET
		category_id=excluded.category_id,
		title=excluded.title,
		version_remote=excluded.version_remote,
		filename=excluded.filename,
		url=excluded.url,
		hash=excluded.hash,
		is_special=excluded.is_special,
		is_watching=excluded.is_watching,
		is_licensed=excluded.is_licensed
	`

	_, err := t.tx.ExecContext(ctx, query,
		record.ResourceID, record.ParentID, record.CategoryID, record.Title,
		record.VersionRemote, record.Filename, record.URL, record.Hash,
		record.IsSpecial, record.IsWatching, record.IsLicensed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource %d (parent %d): %w", record.ResourceID, record.ParentID, err)
	}
	return nil
}

// Reconcile garbage-collects rows the current sync no longer accounts for:
// absent watched roots are demoted, absent licensed or special roots are
// deleted, and dependency rows outside the current pair set are deleted.
// The fetch timestamp is stamped in the same transaction.
func (t *Tx) Reconcile(ctx context.Context, current []models.RoleKey) error {
	idSet := map[int64]struct{}{}
	pairs := make([]models.RoleKey, 0, len(current))
	for _, key := range current {
		idSet[key.ResourceID] = struct{}{}
		if key.ParentID != 0 {
			idSet[key.ParentID] = struct{}{}
			pairs = append(pairs, key)
		}
	}

	if len(idSet) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(idSet)), ",")
		args := make([]any, 0, len(idSet))
		for id := range idSet {
			args = append(args, id)
		}

		statements := []string{
			"UPDATE downloads SET is_watching = 0 WHERE parent_id = 0 AND resource_id NOT IN (%s)",
			"DELETE FROM downloads WHERE parent_id = 0 AND is_licensed = 1 AND resource_id NOT IN (%s)",
			"DELETE FROM downloads WHERE parent_id = 0 AND is_special = 1 AND resource_id NOT IN (%s)",
		}
		for _, stmt := range statements {
			if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(stmt, placeholders), args...); err != nil {
				return fmt.Errorf("failed to reconcile roots: %w", err)
			}
		}
	}

	if len(pairs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("(?, ?),", len(pairs)), ",")
		args := make([]any, 0, len(pairs)*2)
		for _, pair := range pairs {
			args = append(args, pair.ParentID, pair.ResourceID)
		}
		query := fmt.Sprintf(
			"DELETE FROM downloads WHERE parent_id != 0 AND (parent_id, resource_id) NOT IN (VALUES %s)",
			placeholders,
		)
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to reconcile dependency rows: %w", err)
		}
	}

	return t.StampLastFetchTime(ctx)
}

// StampLastFetchTime records now as the last successful catalog fetch.
func (t *Tx) StampLastFetchTime(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE metadata SET last_fetch_time = ? WHERE id = 1", time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to stamp last fetch time: %w", err)
	}
	return nil
}

const rootTaskColumns = `resource_id, category_id, title, version_remote, version_local,
	       0 AS parent_resource_id, url, filename, hash`

const dependencyTaskColumns = `d.resource_id, p.category_id AS parent_category_id, d.title, d.version_remote, d.version_local,
	       d.parent_id AS parent_resource_id, d.url, d.filename, d.hash`

// FetchDownloadQueue returns tasks for every flagged root (watched, special
// or licensed) plus every dependency row joined to its root parent's
// category.
func (t *Tx) FetchDownloadQueue(ctx context.Context) ([]models.DownloadTask, error) {
	roots, err := queryTasks(ctx, t.tx, `
	SELECT `+rootTaskColumns+`
	FROM downloads
	WHERE parent_id = 0 AND (is_watching = 1 OR is_special = 1 OR is_licensed = 1)
	`)
	if err != nil {
		return nil, err
	}

	deps, err := queryTasks(ctx, t.tx, `
	SELECT `+dependencyTaskColumns+`
	FROM downloads d
	JOIN downloads p ON p.resource_id = d.parent_id AND p.parent_id = 0
	WHERE d.parent_id != 0
	`)
	if err != nil {
		return nil, err
	}

	return append(roots, deps...), nil
}

// FetchResourceTasks returns the root task for one resource id plus any
// dependency rows parented to it.
func (t *Tx) FetchResourceTasks(ctx context.Context, resourceID int64) ([]models.DownloadTask, error) {
	roots, err := queryTasks(ctx, t.tx, `
	SELECT `+rootTaskColumns+`
	FROM downloads
	WHERE parent_id = 0 AND resource_id = ?
	`, resourceID)
	if err != nil {
		return nil, err
	}

	deps, err := queryTasks(ctx, t.tx, `
	SELECT `+dependencyTaskColumns+`
	FROM downloads d
	JOIN downloads p ON p.resource_id = d.parent_id AND p.parent_id = 0
	WHERE d.parent_id = ?
	`, resourceID)
	if err != nil {
		return nil, err
	}

	return append(roots, deps...), nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]models.DownloadTask, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query download tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.DownloadTask
	for rows.Next() {
		var task models.DownloadTask
		var url, filename, hash sql.NullString
		if err := rows.Scan(
			&task.ResourceID, &task.CategoryID, &task.Title,
			&task.RemoteVersion, &task.LocalVersion, &task.ParentResourceID,
			&url, &filename, &hash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan download task: %w", err)
		}
		task.DownloadURL = url.String
		task.Filename = filename.String
		task.FileHash = hash.String
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ApplyVersionUpdates applies all confirmed downloads in one transaction.
// Root updates match parent_id = 0, dependency updates match the exact
// parent. All-or-nothing.
func (db *DB) ApplyVersionUpdates(ctx context.Context, updates []models.VersionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, update := range updates {
		if update.ParentResourceID != 0 {
			_, err = tx.ExecContext(ctx,
				"UPDATE downloads SET version_local = ? WHERE resource_id = ? AND parent_id = ?",
				update.RemoteVersion, update.ResourceID, update.ParentResourceID)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE downloads SET version_local = ? WHERE resource_id = ? AND parent_id = 0",
				update.RemoteVersion, update.ResourceID)
		}
		if err != nil {
			return fmt.Errorf("failed to apply version update for resource %d: %w", update.ResourceID, err)
		}
	}

	return tx.Commit()
}

// LastFetchTime returns the unix timestamp of the last successful catalog
// fetch, 0 when never fetched.
func (db *DB) LastFetchTime(ctx context.Context) (int64, error) {
	var stamp sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		"SELECT last_fetch_time FROM metadata WHERE id = 1").Scan(&stamp)
	if err != nil {
		return 0, fmt.Errorf("failed to read last fetch time: %w", err)
	}
	return stamp.Int64, nil
}

// HasRootRow reports whether a standalone row exists for the resource.
func (db *DB) HasRootRow(ctx context.Context, resourceID int64) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		"SELECT 1 FROM downloads WHERE resource_id = ? AND parent_id = 0 LIMIT 1",
		resourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check root row: %w", err)
	}
	return true, nil
}

// HasDependencyRows reports whether a dependency row exists for every
// expected parent.
func (db *DB) HasDependencyRows(ctx context.Context, resourceID int64, parentIDs []int64) (bool, error) {
	if len(parentIDs) == 0 {
		return false, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(parentIDs)), ",")
	args := make([]any, 0, len(parentIDs)+1)
	args = append(args, resourceID)
	for _, parentID := range parentIDs {
		args = append(args, parentID)
	}

	var count int
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(1) FROM downloads WHERE resource_id = ? AND parent_id IN (%s)", placeholders),
		args...).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency rows: %w", err)
	}
	return count >= len(parentIDs), nil
}

// GetRootVersionLocal returns the locally recorded version of a standalone
// resource. The second return is false when no row exists; a missing schema
// also reads as "not installed" so health checks work against a fresh cache.
func (db *DB) GetRootVersionLocal(ctx context.Context, resourceID int64) (int64, bool, error) {
	var version int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT version_local FROM downloads WHERE parent_id = 0 AND resource_id = ?",
		resourceID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read root version: %w", err)
	}
	return version, true, nil
}

// ResetDownloadDates zeroes every locally recorded version and the fetch
// timestamp, forcing the next sync to refetch and redownload everything.
func (db *DB) ResetDownloadDates(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "UPDATE downloads SET version_local = 0"); err != nil {
		return fmt.Errorf("failed to reset download dates: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "UPDATE metadata SET last_fetch_time = 0 WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to reset last fetch time: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM manifest_cache"); err != nil {
		return fmt.Errorf("failed to clear manifest cache: %w", err)
	}
	return nil
}

// ResetResourceDownloadDates zeroes the recorded version for the given
// resources, including any dependency rows parented to them.
func (db *DB) ResetResourceDownloadDates(ctx context.Context, resourceIDs []int64) error {
	for _, id := range resourceIDs {
		if _, err := db.conn.ExecContext(ctx,
			"UPDATE downloads SET version_local = 0 WHERE resource_id = ? OR parent_id = ?",
			id, id); err != nil {
			return fmt.Errorf("failed to reset download date for resource %d: %w", id, err)
		}
	}
	return nil
}

// CachedManifest returns the persisted manifest payload when it is younger
// than ttl. The second return reports a usable hit.
func (db *DB) CachedManifest(ctx context.Context, ttl time.Duration) (string, bool, error) {
	var fetchedAt int64
	var payload string
	err := db.conn.QueryRowContext(ctx,
		"SELECT fetched_at, payload FROM manifest_cache WHERE id = 1").Scan(&fetchedAt, &payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read manifest cache: %w", err)
	}
	if time.Since(time.Unix(fetchedAt, 0)) > ttl {
		return "", false, nil
	}
	return payload, true, nil
}

// StoreManifest persists the manifest payload with the current timestamp.
func (db *DB) StoreManifest(ctx context.Context, payload string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO manifest_cache (id, fetched_at, payload) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET fetched_at=excluded.fetched_at, payload=excluded.payload
	`, time.Now().Unix(), payload)
	if err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}
