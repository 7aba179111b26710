package testsupport

import (
	"path/filepath"
	"testing"

	"icast/internal/config"
)

// NewConfig returns a validated config rooted in a temp directory with
// placeholder credentials.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Endpoint = "https://storage.example.net"
	cfg.Storage.Region = "test-1"
	cfg.Storage.Bucket = "icast-test"
	cfg.Storage.AccessKeyID = "test-access"
	cfg.Storage.SecretAccessKey = "test-secret"
	cfg.Nexara.APIKey = "test-nexara"
	cfg.LLM.APIKey = "test-llm"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}
