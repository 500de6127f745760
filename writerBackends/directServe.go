package writerbackends

// directServe writes the file to the local filesystem under the serving
// folder; the HTTP server exposes that folder as-is.

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mediaconv/logger"
)

// UploadToDirectServe writes content from an io.Reader to a local file system path,
// which is served directly by the HTTP server.
func UploadToDirectServe(ctx context.Context, accessInfo map[string]string, reader io.Reader) error {
	baseDir := accessInfo["baseDir"]   // Base directory where files are served from
	folder := accessInfo["folder"]     // Subfolder inside the base directory
	filename := accessInfo["filename"] // Target filename

	if baseDir == "" || filename == "" {
		return fmt.Errorf("missing required accessInfo keys: baseDir, filename")
	}
	if !isLocalPath(folder) || !isLocalPath(filename) || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid target path %q/%q", folder, filename)
	}

	fullDir := filepath.Join(baseDir, folder)
	fullPath := filepath.Join(fullDir, filename)

	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// Write to a sibling temp file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(fullDir, "."+filename+".*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", fullDir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: reader}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write to file %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", fullPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move file into place %s: %w", fullPath, err)
	}

	logger.Infof("Successfully saved file '%s' to '%s'", filename, fullPath)
	return nil
}

// isLocalPath reports whether p stays inside its parent once joined.
func isLocalPath(p string) bool {
	if p == "" {
		return true
	}
	return filepath.IsLocal(p)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
