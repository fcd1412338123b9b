package database

import (
	"context"
	"testing"
	"time"

	"addonsync/pkg/models"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func upsert(t *testing.T, db *DB, record *models.DownloadRecord) {
	t.Helper()

	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.UpsertResource(context.Background(), record))
	require.NoError(t, tx.Commit())
}

func rootRecord(resourceID int64) *models.DownloadRecord {
	return &models.DownloadRecord{
		ResourceID:    resourceID,
		ParentID:      0,
		CategoryID:    8,
		Title:         "Test Resource",
		VersionRemote: 100,
		Filename:      "test.zip",
		URL:           "https://example.com/test.zip",
		Hash:          "0123456789abcdef0123456789abcdef",
		IsWatching:    true,
	}
}

func TestNew(t *testing.T) {
	db := setupTestDB(t)

	stamp, err := db.LastFetchTime(context.Background())
	require.NoError(t, err)
	require.Zero(t, stamp)
}

func TestNew_SchemaVersionStamped(t *testing.T) {
	db := setupTestDB(t)

	var version int64
	err := db.conn.QueryRow("SELECT schema_version FROM metadata WHERE id = 1").Scan(&version)
	require.NoError(t, err)
	require.EqualValues(t, schemaVersion, version)
}

func TestUpsertResource_PreservesLocalVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))
	require.NoError(t, db.ApplyVersionUpdates(ctx, []models.VersionUpdate{
		{ResourceID: 151, RemoteVersion: 100},
	}))

	// A later catalog refresh must not disturb the installed version.
	refreshed := rootRecord(151)
	refreshed.VersionRemote = 200
	refreshed.Title = "Renamed"
	upsert(t, db, refreshed)

	version, found, err := db.GetRootVersionLocal(ctx, 151)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 100, version)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchResourceTasks(ctx, 151)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "Renamed", tasks[0].Title)
	require.EqualValues(t, 200, tasks[0].RemoteVersion)
	require.EqualValues(t, 100, tasks[0].LocalVersion)
	require.True(t, tasks[0].NeedsDownload())
}

func TestUpsertResource_BothRoles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Resource 153 is watched in its own right and a dependency of 151.
	upsert(t, db, rootRecord(151))
	upsert(t, db, rootRecord(153))
	dep := rootRecord(153)
	dep.ParentID = 151
	dep.IsWatching = false
	upsert(t, db, dep)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	keys := map[models.RoleKey]bool{}
	for _, task := range tasks {
		keys[models.RoleKey{ParentID: task.ParentResourceID, ResourceID: task.ResourceID}] = true
	}
	require.True(t, keys[models.RoleKey{ParentID: 0, ResourceID: 151}])
	require.True(t, keys[models.RoleKey{ParentID: 0, ResourceID: 153}])
	require.True(t, keys[models.RoleKey{ParentID: 151, ResourceID: 153}])
}

func TestFetchDownloadQueue_FlaggedRootsOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	watched := rootRecord(1)
	licensed := rootRecord(2)
	licensed.IsWatching = false
	licensed.IsLicensed = true
	special := rootRecord(3)
	special.IsWatching = false
	special.IsSpecial = true
	unflagged := rootRecord(4)
	unflagged.IsWatching = false

	for _, record := range []*models.DownloadRecord{watched, licensed, special, unflagged} {
		upsert(t, db, record)
	}

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		require.NotEqualValues(t, 4, task.ResourceID)
	}
}

func TestFetchDownloadQueue_DependencyInheritsParentCategory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	parent := rootRecord(151)
	parent.CategoryID = 25
	upsert(t, db, parent)

	dep := rootRecord(1865)
	dep.ParentID = 151
	dep.CategoryID = 8 // the queue reports the parent's category instead
	dep.IsWatching = false
	upsert(t, db, dep)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	for _, task := range tasks {
		if task.IsDependency() {
			require.EqualValues(t, 151, task.ParentResourceID)
			require.EqualValues(t, 25, task.CategoryID)
		}
	}
}

func TestFetchResourceTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))
	for _, depID := range []int64{153, 1865} {
		dep := rootRecord(depID)
		dep.ParentID = 151
		dep.IsWatching = false
		upsert(t, db, dep)
	}
	upsert(t, db, rootRecord(999)) // unrelated

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchResourceTasks(ctx, 151)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
}

func TestReconcile(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	watched := rootRecord(1)
	licensed := rootRecord(2)
	licensed.IsWatching = false
	licensed.IsLicensed = true
	special := rootRecord(3)
	special.IsWatching = false
	special.IsSpecial = true
	keptDep := rootRecord(10)
	keptDep.ParentID = 3
	keptDep.IsWatching = false
	staleDep := rootRecord(11)
	staleDep.ParentID = 3
	staleDep.IsWatching = false

	for _, record := range []*models.DownloadRecord{watched, licensed, special, keptDep, staleDep} {
		upsert(t, db, record)
	}

	// Current sync only saw the special root and one of its dependencies.
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reconcile(ctx, []models.RoleKey{
		{ParentID: 0, ResourceID: 3},
		{ParentID: 3, ResourceID: 10},
	}))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)

	keys := map[models.RoleKey]bool{}
	for _, task := range tasks {
		keys[models.RoleKey{ParentID: task.ParentResourceID, ResourceID: task.ResourceID}] = true
	}
	require.True(t, keys[models.RoleKey{ParentID: 0, ResourceID: 3}], "current special survives")
	require.True(t, keys[models.RoleKey{ParentID: 3, ResourceID: 10}], "current dependency survives")
	require.False(t, keys[models.RoleKey{ParentID: 0, ResourceID: 1}], "absent watched root demoted out of the queue")
	require.False(t, keys[models.RoleKey{ParentID: 0, ResourceID: 2}], "absent licensed root deleted")
	require.False(t, keys[models.RoleKey{ParentID: 3, ResourceID: 11}], "stale dependency deleted")

	// Demoted, not deleted: the watched root row keeps its installed version.
	_, found, err := db.GetRootVersionLocal(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)

	stamp, err := db.LastFetchTime(ctx)
	require.NoError(t, err)
	require.NotZero(t, stamp)
}

func TestReconcile_EmptyCurrentSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))

	// Nothing current: no deletions are attempted, only the stamp.
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reconcile(ctx, nil))
	require.NoError(t, tx.Commit())

	found, err := db.HasRootRow(ctx, 151)
	require.NoError(t, err)
	require.True(t, found)
}

func TestApplyVersionUpdates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))
	dep := rootRecord(153)
	dep.ParentID = 151
	dep.IsWatching = false
	upsert(t, db, dep)
	upsert(t, db, rootRecord(153))

	require.NoError(t, db.ApplyVersionUpdates(ctx, []models.VersionUpdate{
		{ResourceID: 151, RemoteVersion: 100},
		{ResourceID: 153, RemoteVersion: 77, ParentResourceID: 151},
	}))

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)

	locals := map[models.RoleKey]int64{}
	for _, task := range tasks {
		locals[models.RoleKey{ParentID: task.ParentResourceID, ResourceID: task.ResourceID}] = task.LocalVersion
	}
	require.EqualValues(t, 100, locals[models.RoleKey{ParentID: 0, ResourceID: 151}])
	require.EqualValues(t, 77, locals[models.RoleKey{ParentID: 151, ResourceID: 153}])
	require.Zero(t, locals[models.RoleKey{ParentID: 0, ResourceID: 153}], "root row of the same resource untouched")
}

func TestApplyVersionUpdates_Empty(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.ApplyVersionUpdates(context.Background(), nil))
}

func TestHasRootRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	found, err := db.HasRootRow(ctx, 151)
	require.NoError(t, err)
	require.False(t, found)

	upsert(t, db, rootRecord(151))

	found, err = db.HasRootRow(ctx, 151)
	require.NoError(t, err)
	require.True(t, found)
}

func TestHasDependencyRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dep := rootRecord(153)
	dep.ParentID = 151
	upsert(t, db, dep)

	found, err := db.HasDependencyRows(ctx, 153, []int64{151})
	require.NoError(t, err)
	require.True(t, found)

	found, err = db.HasDependencyRows(ctx, 153, []int64{151, 2000})
	require.NoError(t, err)
	require.False(t, found, "all expected parents must be present")

	found, err = db.HasDependencyRows(ctx, 153, nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetRootVersionLocal_Missing(t *testing.T) {
	db := setupTestDB(t)

	version, found, err := db.GetRootVersionLocal(context.Background(), 151)
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, version)
}

func TestResetDownloadDates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))
	require.NoError(t, db.ApplyVersionUpdates(ctx, []models.VersionUpdate{{ResourceID: 151, RemoteVersion: 100}}))
	require.NoError(t, db.StoreManifest(ctx, `{"resources":{}}`))

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StampLastFetchTime(ctx))
	require.NoError(t, tx.Commit())

	require.NoError(t, db.ResetDownloadDates(ctx))

	version, found, err := db.GetRootVersionLocal(ctx, 151)
	require.NoError(t, err)
	require.True(t, found)
	require.Zero(t, version)

	stamp, err := db.LastFetchTime(ctx)
	require.NoError(t, err)
	require.Zero(t, stamp)

	_, hit, err := db.CachedManifest(ctx, time.Hour)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestResetResourceDownloadDates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert(t, db, rootRecord(151))
	dep := rootRecord(153)
	dep.ParentID = 151
	dep.IsWatching = false
	upsert(t, db, dep)
	upsert(t, db, rootRecord(999))

	require.NoError(t, db.ApplyVersionUpdates(ctx, []models.VersionUpdate{
		{ResourceID: 151, RemoteVersion: 100},
		{ResourceID: 153, RemoteVersion: 50, ParentResourceID: 151},
		{ResourceID: 999, RemoteVersion: 30},
	}))

	require.NoError(t, db.ResetResourceDownloadDates(ctx, []int64{151}))

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	tasks, err := tx.FetchDownloadQueue(ctx)
	require.NoError(t, err)
	for _, task := range tasks {
		switch {
		case task.ResourceID == 151, task.ParentResourceID == 151:
			require.Zero(t, task.LocalVersion)
		case task.ResourceID == 999:
			require.EqualValues(t, 30, task.LocalVersion, "unrelated resource untouched")
		}
	}
}

func TestManifestCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, hit, err := db.CachedManifest(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, hit)

	payload := `{"resources":{"151":{"last_update":1700000000}}}`
	require.NoError(t, db.StoreManifest(ctx, payload))

	cached, hit, err := db.CachedManifest(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, payload, cached)

	// Expired entries are misses.
	_, err = db.conn.Exec("UPDATE manifest_cache SET fetched_at = ? WHERE id = 1",
		time.Now().Add(-10*time.Minute).Unix())
	require.NoError(t, err)

	_, hit, err = db.CachedManifest(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.False(t, hit)

	// Overwrites replace the payload.
	require.NoError(t, db.StoreManifest(ctx, `{"resources":{}}`))
	cached, hit, err = db.CachedManifest(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, `{"resources":{}}`, cached)
}
