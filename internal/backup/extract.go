// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks every entry of archivePath into destDir and returns
// the slash-separated names it wrote. Entries escaping destDir or larger than
// maxFileSize abort the extraction.
func extractArchive(archivePath, destDir string, maxFileSize int64) (map[string]bool, error) {
	tarReader, closers, err := openArchiveReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer closeAll(closers)

	extracted := make(map[string]bool)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			destPath, err := validateAndBuildDestPath(destDir, header.Name)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(destPath, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", header.Name, err)
			}
			extracted[strings.TrimSuffix(header.Name, "/")+"/"] = true
		case tar.TypeReg:
			if err := extractTarEntry(tarReader, destDir, header, maxFileSize); err != nil {
				return nil, err
			}
			extracted[header.Name] = true
		default:
			return nil, fmt.Errorf("unsupported archive entry type %q for %s", header.Typeflag, header.Name)
		}
	}
	return extracted, nil
}

// extractTarEntry extracts a single tar entry below destDir
func extractTarEntry(tarReader *tar.Reader, destDir string, header *tar.Header, maxFileSize int64) error {
	destPath, err := validateAndBuildDestPath(destDir, header.Name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", header.Name, err)
	}

	if err := extractFile(tarReader, destPath, header.Size, maxFileSize); err != nil {
		return fmt.Errorf("failed to extract %s: %w", header.Name, err)
	}
	_ = os.Chtimes(destPath, header.ModTime, header.ModTime) //nolint:errcheck // mtime is informational
	return nil
}

// validateAndBuildDestPath validates and builds the destination path for extraction
func validateAndBuildDestPath(destDir, fileName string) (string, error) {
	destPath := filepath.Join(destDir, filepath.FromSlash(fileName))

	// Reject entries that resolve outside destDir (G305)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", fileName)
	}

	return destPath, nil
}

// extractFile safely extracts a single file from a tar reader with size limits
//
//nolint:gosec // G110: Size is validated, G304: destPath is validated by caller
func extractFile(reader io.Reader, destPath string, size, maxFileSize int64) error {
	if err := validateExtractionSize(size, maxFileSize); err != nil {
		return err
	}

	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	return copyAndCloseExtractedFile(outFile, reader, destPath, size)
}

// validateExtractionSize checks that the file size is within acceptable limits
func validateExtractionSize(size, maxFileSize int64) error {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxExtractFileSize
	}
	if size > maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", size, maxFileSize)
	}
	return nil
}

// copyAndCloseExtractedFile copies data to the extracted file and handles cleanup
func copyAndCloseExtractedFile(outFile *os.File, reader io.Reader, destPath string, size int64) error {
	// LimitReader guards against headers that understate the payload
	n, err := io.Copy(outFile, io.LimitReader(reader, size+1))
	closeErr := outFile.Close()

	if err == nil && n != size {
		err = fmt.Errorf("size mismatch: header says %d bytes, read %d", size, n)
	}
	if err != nil {
		os.Remove(destPath) //nolint:errcheck // Best effort cleanup on error
		return err
	}
	if closeErr != nil {
		os.Remove(destPath) //nolint:errcheck // Best effort cleanup on error
		return closeErr
	}
	return nil
}

// copyFile copies a file from src to dst, creating parent directories
//
//nolint:gosec // G304: paths are validated by caller
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close() //nolint:errcheck // Best effort cleanup

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	info, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if err := copyAndCloseDestFile(destFile, sourceFile); err != nil {
		return err
	}
	// Keep the source mtime
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copyAndCloseDestFile copies data from source to destination file and ensures proper cleanup
func copyAndCloseDestFile(destFile *os.File, sourceFile *os.File) error {
	_, err := io.Copy(destFile, sourceFile)
	if err != nil {
		destFile.Close() //nolint:errcheck // Best effort cleanup on error
		return err
	}

	if err := destFile.Sync(); err != nil {
		destFile.Close() //nolint:errcheck // Best effort cleanup on error
		return err
	}

	return destFile.Close()
}
