package syncer

import (
	"context"

	"addonsync/internal/catalog"
	"addonsync/pkg/models"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// CatalogClient is the remote catalog surface the syncer depends on.
type CatalogClient interface {
	FetchWatched(ctx context.Context) ([]catalog.ResourcePayload, error)
	FetchLicenses(ctx context.Context) ([]catalog.License, error)
	FetchResourcesBatch(ctx context.Context, resourceIDs []int64) ([]catalog.ResourcePayload, error)
	FetchManifest(ctx context.Context) (*catalog.Manifest, error)
}

// TaskDownloader downloads one queued task to its destination.
type TaskDownloader interface {
	Download(ctx context.Context, task models.DownloadTask) error
}
