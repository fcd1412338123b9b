// Package catalog provides client functionality for the remote resource API
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"addonsync/internal/retry"
	"addonsync/pkg/models"

	"golang.org/x/sync/errgroup"
)

const (
	// manifestTTL bounds both the in-memory and the persisted manifest tier.
	manifestTTL = 5 * time.Minute

	requestTimeout = 10 * time.Second

	// maxCatalogConns caps concurrent connections during paginated and
	// batch fetches.
	maxCatalogConns = 10
)

// StatusError is a non-2xx HTTP response. Status errors are never retried at
// the catalog level; the server answered, it just said no.
type StatusError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface for StatusError
func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// ManifestStore is the persistent manifest cache tier, backed by the local
// database.
type ManifestStore interface {
	CachedManifest(ctx context.Context, ttl time.Duration) (string, bool, error)
	StoreManifest(ctx context.Context, payload string) error
}

// Client represents a resource catalog API client
type Client struct {
	baseURL     string
	manifestURL string
	headers     map[string]string
	httpClient  *http.Client
	retry       retry.Policy
	store       ManifestStore
	logger      *slog.Logger

	mu             sync.Mutex
	manifest       *Manifest
	manifestExpiry time.Time
}

// FilePayload is one downloadable file attached to a resource.
type FilePayload struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Hash        string `json:"hash"`
}

// ResourcePayload is a resource as the API serves it.
type ResourcePayload struct {
	ResourceID   int64         `json:"resource_id"`
	Title        string        `json:"title"`
	CanDownload  bool          `json:"can_download"`
	CurrentFiles []FilePayload `json:"current_files"`
	Category     struct {
		ParentCategoryID int64 `json:"parent_category_id"`
	} `json:"Category"`
}

// License pairs a licensed resource with its activation state.
type License struct {
	Active   bool            `json:"active"`
	Resource ResourcePayload `json:"resource"`
}

type pagination struct {
	LastPage int `json:"last_page"`
}

// Me identifies the authenticated user.
type Me struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// ManifestEntry carries the last catalog update time for one resource.
type ManifestEntry struct {
	LastUpdate int64 `json:"last_update"`
}

// Manifest summarizes when each resource last changed, keyed by decimal
// resource id.
type Manifest struct {
	Resources map[string]ManifestEntry `json:"resources"`
}

// LastUpdate returns the manifest timestamp for a resource, 0 when the
// manifest does not know it.
func (m *Manifest) LastUpdate(resourceID int64) int64 {
	if m == nil {
		return 0
	}
	return m.Resources[fmt.Sprintf("%d", resourceID)].LastUpdate
}

// New creates a new catalog client
func New(baseURL, manifestURL string, headers map[string]string, store ManifestStore, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		manifestURL: manifestURL,
		headers:     headers,
		store:       store,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxCatalogConns,
				MaxIdleConnsPerHost: maxCatalogConns,
			},
		},
		retry: retry.NetworkPolicy(func(err error) bool {
			var statusErr *StatusError
			return !errors.As(err, &statusErr)
		}),
	}
}

// getJSON fetches a URL and decodes the JSON body, retrying transient
// network failures only.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &StatusError{StatusCode: resp.StatusCode, URL: url}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// downloadable keeps only resources the account can actually fetch.
func downloadable(payload ResourcePayload) bool {
	return payload.CanDownload && len(payload.CurrentFiles) > 0
}

// FetchWatched returns all watched resources, following pagination. Page 1
// determines the page count; remaining pages are fetched concurrently. A
// failed page contributes nothing rather than failing the sync.
func (c *Client) FetchWatched(ctx context.Context) ([]ResourcePayload, error) {
	type watchedPage struct {
		Resources  []ResourcePayload `json:"resources"`
		Pagination pagination        `json:"pagination"`
	}

	fetchPage := func(page int) ([]ResourcePayload, int) {
		var result watchedPage
		url := fmt.Sprintf("%s/api/rgwatched?page=%d", c.baseURL, page)
		if err := c.getJSON(ctx, url, &result); err != nil {
			c.logger.Warn("failed to fetch watched resources page", "page", page, "error", err)
			return nil, 0
		}
		items := make([]ResourcePayload, 0, len(result.Resources))
		for _, payload := range result.Resources {
			if downloadable(payload) {
				items = append(items, payload)
			}
		}
		return items, result.Pagination.LastPage
	}

	return fetchAllPages(ctx, fetchPage)
}

// FetchLicenses returns all of the user's licenses whose resources are
// downloadable, following pagination like FetchWatched.
func (c *Client) FetchLicenses(ctx context.Context) ([]License, error) {
	type licensesPage struct {
		Licenses   []License  `json:"licenses"`
		Pagination pagination `json:"pagination"`
	}

	fetchPage := func(page int) ([]License, int) {
		var result licensesPage
		url := fmt.Sprintf("%s/api/user-licenses?page=%d", c.baseURL, page)
		if err := c.getJSON(ctx, url, &result); err != nil {
			c.logger.Warn("failed to fetch licenses page", "page", page, "error", err)
			return nil, 0
		}
		items := make([]License, 0, len(result.Licenses))
		for _, license := range result.Licenses {
			if downloadable(license.Resource) {
				items = append(items, license)
			}
		}
		return items, result.Pagination.LastPage
	}

	return fetchAllPages(ctx, fetchPage)
}

// fetchAllPages runs the shared pagination pattern: page 1 synchronously,
// the rest concurrently, order preserved.
func fetchAllPages[T any](ctx context.Context, fetchPage func(page int) ([]T, int)) ([]T, error) {
	first, lastPage := fetchPage(1)
	if lastPage <= 1 {
		return first, nil
	}

	pages := make([][]T, lastPage+1)
	pages[1] = first

	group, _ := errgroup.WithContext(ctx)
	for page := 2; page <= lastPage; page++ {
		page := page
		group.Go(func() error {
			items, _ := fetchPage(page)
			pages[page] = items
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []T
	for _, items := range pages {
		all = append(all, items...)
	}
	return all, nil
}

// FetchResource fetches a single resource. A resource that exists but is not
// downloadable (or has no files) returns (nil, nil); an HTTP status error is
// logged and also returns (nil, nil) so one bad id cannot sink a batch.
func (c *Client) FetchResource(ctx context.Context, resourceID int64) (*ResourcePayload, error) {
	var result struct {
		Resource ResourcePayload `json:"resource"`
	}
	url := fmt.Sprintf("%s/api/resources/%d", c.baseURL, resourceID)
	if err := c.getJSON(ctx, url, &result); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.logger.Warn("failed to fetch resource", "resource_id", resourceID, "status", statusErr.StatusCode)
			return nil, nil
		}
		return nil, err
	}

	if !downloadable(result.Resource) {
		c.logger.Debug("resource not downloadable", "resource_id", resourceID)
		return nil, nil
	}
	return &result.Resource, nil
}

// FetchResourcesBatch fetches multiple resources concurrently. Individual
// failures are logged and skipped.
func (c *Client) FetchResourcesBatch(ctx context.Context, resourceIDs []int64) ([]ResourcePayload, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}

	results := make([]*ResourcePayload, len(resourceIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxCatalogConns)
	for i, id := range resourceIDs {
		i, id := i, id
		group.Go(func() error {
			payload, err := c.FetchResource(groupCtx, id)
			if err != nil {
				c.logger.Warn("failed to fetch resource in batch", "resource_id", id, "error", err)
				return nil
			}
			results[i] = payload
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var payloads []ResourcePayload
	for _, payload := range results {
		if payload != nil {
			payloads = append(payloads, *payload)
		}
	}
	return payloads, nil
}

// FetchMe returns the authenticated user's identity.
func (c *Client) FetchMe(ctx context.Context) (*Me, error) {
	var result struct {
		Me Me `json:"me"`
	}
	url := fmt.Sprintf("%s/api/me", c.baseURL)
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	return &result.Me, nil
}

// FetchManifest returns the change manifest through three tiers: the
// in-memory copy, the database copy, then the network. Both caches are
// refreshed after a network fetch.
func (c *Client) FetchManifest(ctx context.Context) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manifest != nil && time.Now().Before(c.manifestExpiry) {
		return c.manifest, nil
	}

	if c.store != nil {
		payload, hit, err := c.store.CachedManifest(ctx, manifestTTL)
		if err != nil {
			c.logger.Warn("failed to read manifest cache", "error", err)
		} else if hit {
			var manifest Manifest
			if err := json.Unmarshal([]byte(payload), &manifest); err == nil {
				c.manifest = &manifest
				c.manifestExpiry = time.Now().Add(manifestTTL)
				return c.manifest, nil
			}
			c.logger.Warn("discarding corrupt manifest cache entry")
		}
	}

	var manifest Manifest
	if err := c.getJSON(ctx, c.manifestURL, &manifest); err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	c.manifest = &manifest
	c.manifestExpiry = time.Now().Add(manifestTTL)

	if c.store != nil {
		payload, err := json.Marshal(&manifest)
		if err == nil {
			if err := c.store.StoreManifest(ctx, string(payload)); err != nil {
				c.logger.Warn("failed to persist manifest", "error", err)
			}
		}
	}

	return c.manifest, nil
}

// ResourceFromPayload maps an API payload onto the internal resource model:
// first current file, parent category, the file id as the remote version.
// Server-side hashes are sanitized; anything that is not 32 hex chars is
// dropped so a corrupt hash degrades to "no verification" instead of a
// guaranteed mismatch.
func ResourceFromPayload(payload ResourcePayload, isWatching, isSpecial, isLicensed bool) models.Resource {
	file := payload.CurrentFiles[0]
	return models.Resource{
		ResourceID: payload.ResourceID,
		Title:      payload.Title,
		CategoryID: payload.Category.ParentCategoryID,
		Version:    file.ID,
		File: models.FileInfo{
			Filename: file.Filename,
			URL:      file.DownloadURL,
			Hash:     SanitizeHash(file.Hash),
		},
		IsWatching: isWatching,
		IsSpecial:  isSpecial,
		IsLicensed: isLicensed,
	}
}

// SanitizeHash trims and lowercases a server-supplied MD5 and returns ""
// unless the result is exactly 32 hex characters.
func SanitizeHash(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if len(cleaned) != 32 {
		return ""
	}
	for _, r := range cleaned {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return cleaned
}
