// Package downloader fetches resource files to their resolved destinations
// and hands archives to the extractor.
package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"addonsync/internal/config"
	"addonsync/internal/extractor"
	"addonsync/internal/retry"
	"addonsync/internal/special"
	"addonsync/pkg/models"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// maxDownloadConns caps concurrent connections to the download host.
const maxDownloadConns = 6

// Free-space cushions beyond the known payload size. Package-level so tests
// can lower them.
var (
	downloadCushion   int64 = 100 << 20
	extractionCushion int64 = 500 << 20
)

// freeSpace reports the bytes available to an unprivileged writer on the
// filesystem holding dir. Swappable in tests.
var freeSpace = func(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// IntegrityError is a hash mismatch between the downloaded bytes and the
// catalog's expected MD5. Never retried: the server would send the same
// bytes again.
type IntegrityError struct {
	Expected string
	Actual   string
}

// Error implements the error interface for IntegrityError
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// errInsufficientSpace aborts an attempt without retrying; a full disk will
// not empty itself within the backoff window.
var errInsufficientSpace = errors.New("insufficient disk space")

// Downloader downloads one resource file at a time to its resolved
// destination. Safe for concurrent use; the http.Client limits per-host
// connections.
type Downloader struct {
	env        *config.Environment
	resolver   *special.Resolver
	extractor  *extractor.Service
	headers    map[string]string
	httpClient *http.Client
	retry      retry.Policy
	logger     *slog.Logger
}

// New creates a new downloader
func New(env *config.Environment, resolver *special.Resolver, extractorService *extractor.Service, headers map[string]string, logger *slog.Logger) *Downloader {
	return &Downloader{
		env:       env,
		resolver:  resolver,
		extractor: extractorService,
		headers:   headers,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: 1 * time.Hour, // Allow up to 1 hour for large downloads
			Transport: &http.Transport{
				MaxConnsPerHost:     maxDownloadConns,
				MaxIdleConnsPerHost: maxDownloadConns,
			},
		},
		retry: retry.NetworkPolicy(func(err error) bool {
			var integrityErr *IntegrityError
			if errors.As(err, &integrityErr) {
				return false
			}
			return !errors.Is(err, errInsufficientSpace)
		}),
	}
}

// Download fetches the task's file into its destination directory and, when
// the payload is a ZIP archive, extracts it in place. Network and HTTP
// status failures are retried with backoff; integrity failures are not.
func (d *Downloader) Download(ctx context.Context, task models.DownloadTask) error {
	destDir := d.Destination(task)

	finalPath := filepath.Join(destDir, task.Filename)
	if err := d.retry.Do(ctx, func() error {
		return d.fetchToFile(ctx, task, destDir, finalPath)
	}); err != nil {
		return err
	}

	if !extractor.IsZip(finalPath) {
		return nil
	}

	free, err := freeSpace(destDir)
	if err == nil && free < extractionCushion {
		os.Remove(finalPath)
		return fmt.Errorf("%w: %s free before extraction", errInsufficientSpace, humanize.Bytes(uint64(free)))
	}

	opts := extractor.Options{
		Flatten:        d.resolver.Flatten(task.ResourceID, task.ParentResourceID),
		ProtectedFiles: d.env.ProtectedFiles[task.ResourceID],
	}
	if _, err := d.extractor.Extract(ctx, finalPath, destDir, opts); err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("failed to extract %s: %w", task.Filename, err)
	}

	return nil
}

// fetchToFile performs one download attempt: stream to a uniquely named
// temp file next to the destination, hash on the way through, atomic rename
// on success. The temp file never survives a failed attempt.
func (d *Downloader) fetchToFile(ctx context.Context, task models.DownloadTask, destDir, finalPath string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range d.headers {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		free, err := freeSpace(destDir)
		if err == nil && free < resp.ContentLength+downloadCushion {
			return fmt.Errorf("%w: need %s, have %s", errInsufficientSpace,
				humanize.Bytes(uint64(resp.ContentLength+downloadCushion)), humanize.Bytes(uint64(free)))
		}
	}

	tempPath := filepath.Join(destDir, fmt.Sprintf("%s.%d.tmp", task.Filename, task.ResourceID))
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	hasher := md5.New()
	written, err := d.copyWithContext(ctx, file, resp.Body, hasher)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}

	if task.FileHash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, task.FileHash) {
			os.Remove(tempPath)
			return &IntegrityError{Expected: task.FileHash, Actual: actual}
		}
	}

	// Same-directory rename keeps the final file appearance atomic.
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move completed file: %w", err)
	}

	d.logger.Info("download completed",
		"resource_id", task.ResourceID,
		"file", finalPath,
		"size", humanize.Bytes(uint64(written)))
	return nil
}

// copyWithContext copies data in 32KB chunks, feeding the hasher and
// honoring cancellation between chunks.
func (d *Downloader) copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, hasher io.Writer) (int64, error) {
	buffer := make([]byte, 32*1024)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, err := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return total, fmt.Errorf("failed to write to file: %w", writeErr)
			}
			hasher.Write(buffer[:n])
			total += int64(n)
		}

		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, fmt.Errorf("failed to read from response: %w", err)
		}
	}
}
