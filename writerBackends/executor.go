package writerbackends

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Backend type names accepted in job delivery settings.
const (
	BackendDirectServe = "directServe"
	BackendS3          = "s3"
	BackendGCS         = "gcs"
	BackendSFTP        = "sftp"
)

// WriteOutput switches on the backend type, e.g., directServe, s3, gcs, sftp.
func WriteOutput(ctx context.Context, accessInfo map[string]string, reader io.Reader, backendType string) error {
	switch backendType {
	case BackendDirectServe:
		if err := UploadToDirectServe(ctx, accessInfo, reader); err != nil {
			return fmt.Errorf("failed to upload to direct serve: %w", err)
		}
	case BackendS3:
		if err := UploadToS3WithCreds(ctx, accessInfo, reader); err != nil {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
	case BackendGCS:
		if err := UploadToGCSWithJSON(ctx, accessInfo, reader); err != nil {
			return fmt.Errorf("failed to upload to GCS: %w", err)
		}
	case BackendSFTP:
		if err := UploadToSFTPWithCreds(ctx, accessInfo, reader); err != nil {
			return fmt.Errorf("failed to upload to SFTP: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend type: %s", backendType)
	}
	return nil
}

// AccessInfoFor merges stored credentials with the object location for one
// output. Stored "prefix" (s3, gcs) or "remoteDir" (sftp) values are
// prepended to subDir/filename. The input map is not modified.
func AccessInfoFor(backendType string, creds map[string]string, subDir, filename string) map[string]string {
	info := make(map[string]string, len(creds)+3)
	for k, v := range creds {
		info[k] = v
	}
	rel := path.Join(strings.Trim(subDir, "/"), filename)

	switch backendType {
	case BackendDirectServe:
		info["folder"] = subDir
		info["filename"] = filename
	case BackendS3:
		info["key"] = strings.TrimPrefix(path.Join(creds["prefix"], rel), "/")
		info["contentType"] = creds["contentType"]
	case BackendGCS:
		info["object"] = strings.TrimPrefix(path.Join(creds["prefix"], rel), "/")
	case BackendSFTP:
		dir := creds["remoteDir"]
		if dir == "" {
			dir = "."
		}
		info["remotePath"] = path.Join(dir, rel)
	}
	return info
}
