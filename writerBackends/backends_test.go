package writerbackends

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadToDirectServe(t *testing.T) {
	base := t.TempDir()
	info := map[string]string{"baseDir": base, "folder": "tenant/a", "filename": "out.webp"}

	require.NoError(t, UploadToDirectServe(context.Background(), info, bytes.NewReader([]byte("data"))))

	got, err := os.ReadFile(filepath.Join(base, "tenant", "a", "out.webp"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	entries, err := os.ReadDir(filepath.Join(base, "tenant", "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not remain")
}

func TestUploadToDirectServe_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	for _, info := range []map[string]string{
		{"baseDir": base, "folder": "../escape", "filename": "x.png"},
		{"baseDir": base, "folder": "ok", "filename": "../x.png"},
		{"baseDir": base, "folder": "/abs", "filename": "x.png"},
		{"baseDir": base, "folder": "", "filename": ""},
	} {
		err := UploadToDirectServe(context.Background(), info, strings.NewReader("x"))
		assert.Error(t, err, "%v", info)
	}
}

func TestUploadToDirectServe_CancelledContext(t *testing.T) {
	base := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := UploadToDirectServe(ctx, map[string]string{"baseDir": base, "filename": "x.png"}, strings.NewReader("x"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(base, "x.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteOutput_UnknownBackend(t *testing.T) {
	err := WriteOutput(context.Background(), nil, strings.NewReader("x"), "ftp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type: ftp")
}

func TestWriteOutput_MissingKeys(t *testing.T) {
	for _, backend := range []string{BackendS3, BackendGCS, BackendSFTP} {
		err := WriteOutput(context.Background(), map[string]string{}, strings.NewReader("x"), backend)
		require.Error(t, err, backend)
		assert.Contains(t, err.Error(), "missing required accessInfo")
	}
}

func TestAccessInfoFor(t *testing.T) {
	creds := map[string]string{"bucket": "b", "prefix": "media/", "remoteDir": "/srv/up"}

	s3 := AccessInfoFor(BackendS3, creds, "tenant", "a.png")
	assert.Equal(t, "media/tenant/a.png", s3["key"])
	assert.Equal(t, "b", s3["bucket"])

	gcs := AccessInfoFor(BackendGCS, map[string]string{"bucket": "b"}, "", "a.png")
	assert.Equal(t, "a.png", gcs["object"])

	sftp := AccessInfoFor(BackendSFTP, creds, "/tenant/", "a.png")
	assert.Equal(t, "/srv/up/tenant/a.png", sftp["remotePath"])

	ds := AccessInfoFor(BackendDirectServe, map[string]string{"baseDir": "/srv"}, "t", "a.png")
	assert.Equal(t, "t", ds["folder"])
	assert.Equal(t, "a.png", ds["filename"])

	_, leaked := creds["key"]
	assert.False(t, leaked, "input map must not be modified")
}

func TestDecodeServiceAccount(t *testing.T) {
	raw, err := decodeServiceAccount(`{"type":"service_account"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(raw))

	decoded, err := decodeServiceAccount("eyJ0eXBlIjoic2VydmljZV9hY2NvdW50In0=")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(decoded))

	_, err = decodeServiceAccount("")
	assert.Error(t, err)
}

func TestHostKeyCallbackFor(t *testing.T) {
	cb, err := hostKeyCallbackFor("")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = hostKeyCallbackFor("not a key")
	assert.Error(t, err)
}

func TestParseSFTPTarget(t *testing.T) {
	target, err := parseSFTPTarget(map[string]string{
		"host":       "files.example.com",
		"user":       "media",
		"password":   "secret",
		"remotePath": "/srv/up/a.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "files.example.com:22", target.addr)
	assert.Len(t, target.auth, 1)

	_, err = parseSFTPTarget(map[string]string{"host": "h", "user": "u", "remotePath": "/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auth method")

	_, err = parseSFTPTarget(map[string]string{"host": "h", "user": "u", "remotePath": "/a", "privateKey": "garbage"})
	assert.Error(t, err)
}
