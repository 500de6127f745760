package config

import (
	"path/filepath"
)

// GetDataDir returns the directory where mediaconv keeps its databases.
// Read on every call so MEDIACONV_DATA_DIR changes apply without a restart.
func GetDataDir() string {
	return GetViper().GetString("data.dir")
}

// GetCredentialsDBPath returns the full path to the credentials database.
// Path: {DATA_DIR}/credentials.db
func GetCredentialsDBPath() string {
	return filepath.Join(GetDataDir(), "credentials.db")
}

// GetFailuresDBPath returns the full path to the failures database.
// Path: {DATA_DIR}/failures.db
func GetFailuresDBPath() string {
	return filepath.Join(GetDataDir(), "failures.db")
}

// GetSuccessDBPath returns the full path to the success database.
// Path: {DATA_DIR}/success.db
func GetSuccessDBPath() string {
	return filepath.Join(GetDataDir(), "success.db")
}

// GetArtifactsDBPath returns the full path to the completed-output store.
// Path: {DATA_DIR}/artifacts.db
func GetArtifactsDBPath() string {
	return filepath.Join(GetDataDir(), "artifacts.db")
}

// GetDirectServeBaseDir returns the base directory for direct file serving.
// Configurable via MEDIACONV_SERVE_DIR for server administrators only.
func GetDirectServeBaseDir() string {
	return GetViper().GetString("serve.dir")
}
