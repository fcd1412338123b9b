// Package extractor provides safe ZIP extraction for downloaded resources
package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extraction limits. Archives exceeding any of these are rejected before a
// single byte is written. Package-level so tests can lower them.
var (
	maxArchiveSize  int64 = 2 << 30 // compressed size on disk
	maxDeclaredSize int64 = 2 << 30 // declared uncompressed total
	maxEntryCount         = 60000
)

// Member writes that fail with a permission error (typically the game still
// holding the file open) are retried a few times before giving up on the
// whole archive.
var (
	memberRetryAttempts = 3
	memberRetryDelay    = 500 * time.Millisecond
)

var zipSignature = []byte{'P', 'K', 0x03, 0x04}

// Options controls how an archive is laid out on disk.
type Options struct {
	// Flatten discards the archive's internal directories and writes every
	// file directly into the destination.
	Flatten bool
	// ProtectedFiles are filenames (case-insensitive) that are never
	// overwritten when they already exist in the destination.
	ProtectedFiles []string
}

// Service provides archive extraction services
type Service struct {
	logger *slog.Logger
}

// NewService creates a new extractor service
func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// IsZip reports whether the file starts with the ZIP local-file signature.
// Extension is deliberately ignored; the catalog serves zips under arbitrary
// names.
func IsZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(zipSignature))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, zipSignature)
}

// Extract unpacks a ZIP archive into destDir and returns the extracted
// paths. The archive is validated (size limits, entry count, CRC integrity)
// before anything is written, and deleted once extraction succeeds.
func (s *Service) Extract(ctx context.Context, archivePath, destDir string, opts Options) ([]string, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.Size() > maxArchiveSize {
		return nil, fmt.Errorf("archive too large: %d bytes", info.Size())
	}

	// ErrInsecurePath still yields a usable reader; the traversal guard
	// below decides what to do with the offending members.
	reader, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	if len(reader.File) > maxEntryCount {
		return nil, fmt.Errorf("archive has too many entries: %d", len(reader.File))
	}

	var declared int64
	for _, file := range reader.File {
		declared += int64(file.UncompressedSize64)
	}
	if declared > maxDeclaredSize {
		return nil, fmt.Errorf("archive declares too much data: %d bytes", declared)
	}

	if err := s.verifyIntegrity(ctx, reader.File); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	canonicalDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination directory: %w", err)
	}

	protected := make(map[string]struct{}, len(opts.ProtectedFiles))
	for _, name := range opts.ProtectedFiles {
		protected[strings.ToLower(name)] = struct{}{}
	}

	var extractedFiles []string
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return extractedFiles, err
		}

		if file.FileInfo().IsDir() {
			continue
		}

		relName := file.Name
		if opts.Flatten {
			relName = filepath.Base(file.Name)
		}

		fullPath := filepath.Join(canonicalDest, filepath.FromSlash(relName))
		canonicalPath, err := filepath.Abs(fullPath)
		if err != nil || !strings.HasPrefix(canonicalPath, canonicalDest+string(os.PathSeparator)) {
			s.logger.Warn("skipping archive member outside destination", "member", file.Name)
			continue
		}

		if _, ok := protected[strings.ToLower(filepath.Base(canonicalPath))]; ok {
			if _, err := os.Stat(canonicalPath); err == nil {
				s.logger.Info("preserving protected file", "file", canonicalPath)
				continue
			}
		}

		if err := s.extractMember(file, canonicalPath); err != nil {
			return extractedFiles, fmt.Errorf("failed to extract %s: %w", file.Name, err)
		}

		extractedFiles = append(extractedFiles, canonicalPath)
	}

	if err := os.Remove(archivePath); err != nil {
		// A locked archive is not worth failing a successful extraction.
		s.logger.Warn("failed to delete archive after extraction", "archive", archivePath, "error", err)
	}

	s.logger.Info("extraction completed", "archive", archivePath, "extracted_files", len(extractedFiles))
	return extractedFiles, nil
}

// verifyIntegrity reads every member once so CRC mismatches surface before
// extraction writes anything.
func (s *Service) verifyIntegrity(ctx context.Context, files []*zip.File) error {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("archive integrity check failed for %s: %w", file.Name, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("archive integrity check failed for %s: %w", file.Name, err)
		}
	}
	return nil
}

// extractMember writes one archive member, retrying permission errors in
// case the target is briefly locked by a running process.
func (s *Service) extractMember(file *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create member directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= memberRetryAttempts; attempt++ {
		lastErr = s.writeMember(file, destPath)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, os.ErrPermission) {
			return lastErr
		}
		if attempt < memberRetryAttempts {
			s.logger.Warn("permission denied writing member, retrying", "file", destPath, "attempt", attempt)
			time.Sleep(memberRetryDelay)
		}
	}
	return lastErr
}

func (s *Service) writeMember(file *zip.File, destPath string) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open file in archive: %w", err)
	}
	defer reader.Close()

	writer, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := io.Copy(writer, reader); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return nil
}
