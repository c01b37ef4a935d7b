// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
archive.go - Archive Writing and Checksums

Archives are written as a writer chain (file -> gzip -> tar) and closed in
reverse order so the gzip trailer and file are flushed before the checksum
pass reads the result back.

Archive Creation Process:
 1. Setup writers (file -> gzip -> tar)
 2. Add every manifest entry from the staging tree under its relative path
 3. Close writers in reverse order
 4. Stream the compressed file through SHA-256 in 4 KiB chunks
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// checksumChunkSize is the read size for archive digests.
const checksumChunkSize = 4096

// archiveWriters holds the writers needed for creating backup archives
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error encountered
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// setupArchiveWriters creates the file, compression, and tar writers for an archive
//
//nolint:gosec // G304: filePath is built from the configured backup directory
func setupArchiveWriters(filePath string, level int) (*archiveWriters, error) {
	outFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	gzWriter, err := gzip.NewWriterLevel(outFile, level)
	if err != nil {
		outFile.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	tw := tar.NewWriter(gzWriter)
	return &archiveWriters{
		tarWriter: tw,
		closers:   []io.Closer{outFile, gzWriter, tw},
	}, nil
}

// writeArchive writes every manifest entry found under stagingDir into a new
// archive at archivePath.
func writeArchive(stagingDir, archivePath string, manifest []string, level int) (err error) {
	aw, err := setupArchiveWriters(archivePath, level)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := aw.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to finalize archive: %w", closeErr)
		}
	}()

	for _, entry := range manifest {
		src := filepath.Join(stagingDir, filepath.FromSlash(strings.TrimSuffix(entry, "/")))
		if isDirEntry(entry) {
			if err := addDirToArchive(aw.tarWriter, src, entry); err != nil {
				return err
			}
			continue
		}
		if err := addFileToArchive(aw.tarWriter, src, entry); err != nil {
			return err
		}
	}
	return nil
}

// addFileToArchive adds a file to the tar archive
//
//nolint:gosec // G304: srcPath is inside the staging tree
func addFileToArchive(tw *tar.Writer, srcPath, destPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer file.Close() //nolint:errcheck // Best effort cleanup

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", srcPath, err)
	}
	header.Name = destPath

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", destPath, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to copy %s to archive: %w", destPath, err)
	}
	return nil
}

func addDirToArchive(tw *tar.Writer, srcPath, destPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", srcPath, err)
	}
	header.Name = destPath
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", destPath, err)
	}
	return nil
}

// calculateFileChecksum streams a file through SHA-256 in fixed-size chunks
// and returns the lowercase hex digest and the number of bytes read.
//
//nolint:gosec // G304: filePath is from internal backup storage
func calculateFileChecksum(filePath string) (string, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer file.Close() //nolint:errcheck // Best effort cleanup

	hasher := sha256.New()
	buf := make([]byte, checksumChunkSize)
	var total int64
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n]) //nolint:errcheck // hash.Hash never returns an error
			total += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", total, readErr
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

// openArchiveReader opens a backup archive file and returns a tar reader.
// The caller is responsible for closing the returned closers in reverse order.
//
//nolint:gosec // G304: filePath is from internal backup storage
func openArchiveReader(filePath string) (*tar.Reader, []io.Closer, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup file: %w", err)
	}

	closers := []io.Closer{file}
	var reader io.Reader = file

	if strings.HasSuffix(filePath, ".gz") {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			file.Close() //nolint:errcheck // Best effort cleanup on error
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		closers = append(closers, gzReader)
		reader = gzReader
	}

	return tar.NewReader(reader), closers, nil
}

// closeAll closes all closers in reverse order
func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close() //nolint:errcheck // Best effort cleanup
	}
}

func isDirEntry(entry string) bool {
	return strings.HasSuffix(entry, "/")
}
