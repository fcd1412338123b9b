// Package syncer orchestrates a sync run: refresh the local store from the
// catalog, reconcile, then download whatever is out of date.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"addonsync/internal/catalog"
	"addonsync/internal/config"
	"addonsync/internal/database"
	"addonsync/internal/special"
	"addonsync/pkg/models"

	"golang.org/x/sync/errgroup"
)

// downloadConcurrency bounds simultaneous downloads.
const downloadConcurrency = 6

// Event kinds and details reported through the event callback.
const (
	EventStart = "start"
	EventDone  = "done"

	DetailDownloaded = "downloaded"
	DetailSkipped    = "skipped"
	DetailError      = "error"
)

// EventFunc receives progress events. For EventStart the detail is the
// resource title.
type EventFunc func(kind string, resourceID int64, detail string)

// Syncer coordinates the catalog, the local store and the downloader.
type Syncer struct {
	db         *database.DB
	catalog    CatalogClient
	resolver   *special.Resolver
	downloader TaskDownloader
	envName    string
	logger     *slog.Logger
	onEvent    EventFunc
}

// New creates a new syncer. onEvent may be nil.
func New(db *database.DB, catalogClient CatalogClient, resolver *special.Resolver, downloader TaskDownloader, envName string, logger *slog.Logger, onEvent EventFunc) *Syncer {
	return &Syncer{
		db:         db,
		catalog:    catalogClient,
		resolver:   resolver,
		downloader: downloader,
		envName:    envName,
		logger:     logger,
		onEvent:    onEvent,
	}
}

func (s *Syncer) emit(kind string, resourceID int64, detail string) {
	if s.onEvent != nil {
		s.onEvent(kind, resourceID, detail)
	}
}

// fetchedData is everything a sync run needs from the catalog before it
// touches the store.
type fetchedData struct {
	watched  []catalog.ResourcePayload
	licenses []catalog.License
	status   map[int64]special.Status
	specials []catalog.ResourcePayload
}

// Sync runs a full sync when resourceIDs is nil, a targeted sync otherwise.
// The bool reports overall success: false when any download failed, the run
// was cancelled, or a targeted sync matched nothing.
func (s *Syncer) Sync(ctx context.Context, resourceIDs []int64) (bool, error) {
	var (
		data *fetchedData
		err  error
	)
	if resourceIDs == nil {
		data, err = s.fetchFullSyncData(ctx)
	} else {
		data, err = s.fetchTargetedSyncData(ctx, resourceIDs)
	}
	if err != nil {
		return false, err
	}

	tasks, err := s.ingest(ctx, data, resourceIDs)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("sync cancelled before downloads started")
			return false, nil
		}
		return false, err
	}

	if resourceIDs != nil && len(tasks) == 0 {
		return false, fmt.Errorf("no downloadable resources found for ids %v; check the server environment and opt-in settings", resourceIDs)
	}

	s.logger.Info("resources to process", "count", len(tasks))
	return s.downloadAll(ctx, tasks)
}

// fetchFullSyncData pulls watched resources, licenses and the manifest
// concurrently, then batch-fetches the opted-in specials that changed or
// are missing locally.
func (s *Syncer) fetchFullSyncData(ctx context.Context) (*fetchedData, error) {
	data := &fetchedData{}
	var manifest *catalog.Manifest

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		data.watched, err = s.catalog.FetchWatched(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		data.licenses, err = s.catalog.FetchLicenses(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		manifest, err = s.catalog.FetchManifest(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch catalog data: %w", err)
	}

	data.status = s.resolver.ComputeStatus(nil)

	specialIDs, err := s.filterSpecials(ctx, data.status, manifest)
	if err != nil {
		return nil, err
	}
	data.specials, err = s.catalog.FetchResourcesBatch(ctx, specialIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch special resources: %w", err)
	}

	return data, nil
}

// filterSpecials keeps the specials whose manifest entry is newer than the
// last fetch, plus any without a local root row.
func (s *Syncer) filterSpecials(ctx context.Context, status map[int64]special.Status, manifest *catalog.Manifest) ([]int64, error) {
	lastFetch, err := s.db.LastFetchTime(ctx)
	if err != nil {
		return nil, err
	}

	var toFetch []int64
	for id := range status {
		if manifest.LastUpdate(id) > lastFetch {
			toFetch = append(toFetch, id)
			continue
		}
		present, err := s.db.HasRootRow(ctx, id)
		if err != nil || !present {
			toFetch = append(toFetch, id)
		}
	}
	return toFetch, nil
}

// fetchTargetedSyncData resolves the requested ids plus their opted-in
// dependencies and fetches only those the manifest or the store says need
// refreshing. Licenses are not consulted on targeted runs.
func (s *Syncer) fetchTargetedSyncData(ctx context.Context, resourceIDs []int64) (*fetchedData, error) {
	manifest, err := s.catalog.FetchManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	status := s.resolver.ComputeStatus(resourceIDs)

	lastFetch, err := s.db.LastFetchTime(ctx)
	if err != nil {
		return nil, err
	}

	var fetchIDs []int64
	for id, st := range status {
		var present bool
		if st.IsDependency {
			present, err = s.db.HasDependencyRows(ctx, id, st.ParentIDs)
		} else {
			present, err = s.db.HasRootRow(ctx, id)
		}
		if err != nil || !present {
			fetchIDs = append(fetchIDs, id)
			continue
		}
		if update := manifest.LastUpdate(id); update != 0 && update <= lastFetch {
			// Unchanged since the last fetch; skip the API call.
			continue
		}
		fetchIDs = append(fetchIDs, id)
	}

	fetched, err := s.catalog.FetchResourcesBatch(ctx, fetchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resources: %w", err)
	}

	data := &fetchedData{status: status}
	for _, payload := range fetched {
		st := status[payload.ResourceID]
		if st.IsSpecial || st.IsDependency {
			data.specials = append(data.specials, payload)
		} else {
			data.watched = append(data.watched, payload)
		}
	}
	return data, nil
}

// ingest writes the fetched catalog state and reads back the download queue
// inside one transaction, so a cancelled run leaves the store untouched.
func (s *Syncer) ingest(ctx context.Context, data *fetchedData, resourceIDs []int64) ([]models.DownloadTask, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current := map[models.RoleKey]struct{}{}

	for _, payload := range data.watched {
		resource := catalog.ResourceFromPayload(payload, true, false, false)
		if !s.ingestible(resource.CategoryID) {
			continue
		}
		if err := tx.UpsertResource(ctx, rootRecord(resource)); err != nil {
			return nil, err
		}
		current[models.RoleKey{ResourceID: resource.ResourceID}] = struct{}{}
	}

	for _, license := range data.licenses {
		resource := catalog.ResourceFromPayload(license.Resource, false, false, license.Active)
		if !s.ingestible(resource.CategoryID) {
			continue
		}
		if err := tx.UpsertResource(ctx, rootRecord(resource)); err != nil {
			return nil, err
		}
		current[models.RoleKey{ResourceID: resource.ResourceID}] = struct{}{}
	}

	// Specials count toward the current set even when their payload was not
	// refetched this run; their rows are already in the store.
	for id, st := range data.status {
		if st.IsSpecial {
			current[models.RoleKey{ResourceID: id}] = struct{}{}
		}
		for _, parentID := range st.ParentIDs {
			current[models.RoleKey{ParentID: parentID, ResourceID: id}] = struct{}{}
		}
	}

	for _, payload := range data.specials {
		st, ok := data.status[payload.ResourceID]
		if !ok {
			continue
		}
		resource := catalog.ResourceFromPayload(payload, false, st.IsSpecial, false)
		if st.IsSpecial {
			if err := tx.UpsertResource(ctx, rootRecord(resource)); err != nil {
				return nil, err
			}
		}
		for _, parentID := range st.ParentIDs {
			if err := tx.UpsertResource(ctx, dependencyRecord(resource, parentID)); err != nil {
				return nil, err
			}
		}
	}

	var tasks []models.DownloadTask
	if resourceIDs == nil {
		currentKeys := make([]models.RoleKey, 0, len(current))
		for key := range current {
			currentKeys = append(currentKeys, key)
		}
		if err := tx.Reconcile(ctx, currentKeys); err != nil {
			return nil, err
		}
		tasks, err = tx.FetchDownloadQueue(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		for _, id := range resourceIDs {
			resourceTasks, err := tx.FetchResourceTasks(ctx, id)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, resourceTasks...)
		}
		// Targeted runs stamp the fetch time too so the manifest fast path
		// helps the next full sync.
		if err := tx.StampLastFetchTime(ctx); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ingestible reports whether a category is tracked at all, applying the
// LIVE-only gate on plugins.
func (s *Syncer) ingestible(categoryID int64) bool {
	if categoryID == config.PluginCategoryID && s.envName != "LIVE" {
		return false
	}
	_, ok := config.CategoryMap[categoryID]
	return ok
}

func rootRecord(resource models.Resource) *models.DownloadRecord {
	return &models.DownloadRecord{
		ResourceID:    resource.ResourceID,
		ParentID:      0,
		CategoryID:    resource.CategoryID,
		Title:         resource.Title,
		VersionRemote: resource.Version,
		Filename:      resource.File.Filename,
		URL:           resource.File.URL,
		Hash:          resource.File.Hash,
		IsSpecial:     resource.IsSpecial,
		IsWatching:    resource.IsWatching,
		IsLicensed:    resource.IsLicensed,
	}
}

func dependencyRecord(resource models.Resource, parentID int64) *models.DownloadRecord {
	record := rootRecord(resource)
	record.ParentID = parentID
	// A dependency row is never marked special; the standalone row carries
	// that flag.
	record.IsSpecial = false
	return record
}

// downloadAll runs the queue with bounded concurrency, then applies version
// updates for everything that finished. One failed task fails the run but
// never its siblings.
func (s *Syncer) downloadAll(ctx context.Context, tasks []models.DownloadTask) (bool, error) {
	var toDownload []models.DownloadTask
	for _, task := range tasks {
		if task.NeedsDownload() {
			s.emit(EventStart, task.ResourceID, task.Title)
			toDownload = append(toDownload, task)
		} else {
			s.emit(EventDone, task.ResourceID, DetailSkipped)
		}
	}

	if len(toDownload) == 0 {
		s.logger.Info("all resources are up to date")
		return true, nil
	}

	var (
		mu      sync.Mutex
		updates []models.VersionUpdate
		failed  int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(downloadConcurrency)
	for _, task := range toDownload {
		task := task
		group.Go(func() error {
			if groupCtx.Err() != nil {
				// Cancelled before this task started; don't count it as a
				// download failure.
				return nil
			}

			if err := s.downloader.Download(groupCtx, task); err != nil {
				s.logger.Error("download failed",
					"resource_id", task.ResourceID,
					"title", task.Title,
					"error", err)
				s.emit(EventDone, task.ResourceID, DetailError)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			s.emit(EventDone, task.ResourceID, DetailDownloaded)
			mu.Lock()
			updates = append(updates, models.VersionUpdate{
				ResourceID:       task.ResourceID,
				RemoteVersion:    task.RemoteVersion,
				ParentResourceID: task.ParentResourceID,
			})
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	// Version updates only for confirmed downloads, applied in one batch
	// after every task has settled.
	if err := s.db.ApplyVersionUpdates(context.WithoutCancel(ctx), updates); err != nil {
		return false, fmt.Errorf("failed to record completed downloads: %w", err)
	}

	if ctx.Err() != nil {
		s.logger.Info("sync cancelled", "completed", len(updates))
		return false, nil
	}
	if failed > 0 {
		s.logger.Error("sync finished with failures", "failed", failed, "downloaded", len(updates))
		return false, nil
	}

	s.logger.Info("sync finished", "downloaded", len(updates))
	return true, nil
}
