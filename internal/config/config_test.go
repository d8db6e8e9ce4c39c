package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynastycore/internal/core"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dynasty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{Environ: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, core.StorageSQLite, cfg.StorageConfig().Driver)
	assert.Equal(t, core.DefaultRetryPolicy(), cfg.RetryPolicy())
	assert.Equal(t, core.DefaultInvitationTTL, cfg.InvitationTTL)
}

func TestLoadLayersFileEnvAndFlags(t *testing.T) {
	path := writeYAML(t, `
storage:
  driver: postgres
  postgres_dsn: postgres://file
blob:
  driver: s3
  url_expiry: 5m
  s3:
    bucket: family-media
    path_style: true
retry:
  max_attempts: 9
invitation_ttl: 48h
log:
  level: debug
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--log-format", "json", "--retry-attempts", "3"}))
	assert.Equal(t, path, flags.File())

	cfg, err := Load(Options{
		File: flags.File(),
		Environ: map[string]string{
			"DYNASTY_STORAGE_POSTGRES_DSN": "postgres://env",
			"DYNASTY_BLOB_S3_REGION":       "eu-west-1",
			"DYNASTY_HTTP_ADDR":            "127.0.0.1:9000",
			"DYNASTY_RETRY_MAX_ATTEMPTS":   "7",
		},
		Flags: flags,
	})
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN, "env overrides file")
	assert.Equal(t, "family-media", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, "eu-west-1", cfg.Blob.S3.Region)
	assert.Equal(t, 5*time.Minute, cfg.Blob.URLExpiry)
	assert.Equal(t, 48*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "flag applied")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts, "flag overrides env")
	assert.Equal(t, Defaults().Retry.InitialInterval, cfg.Retry.InitialInterval, "unset keys keep defaults")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		environ map[string]string
		want    string
	}{
		"unknown storage driver": {map[string]string{"DYNASTY_STORAGE_DRIVER": "cassandra"}, "Storage.Driver failed oneof"},
		"postgres without dsn":   {map[string]string{"DYNASTY_STORAGE_DRIVER": "postgres"}, "PostgresDSN failed required_if"},
		"s3 without bucket":      {map[string]string{"DYNASTY_BLOB_DRIVER": "s3"}, "blob.s3.bucket required"},
		"zero attempts":          {map[string]string{"DYNASTY_RETRY_MAX_ATTEMPTS": "0"}, "MaxAttempts failed gte"},
		"bad log format":         {map[string]string{"DYNASTY_LOG_FORMAT": "xml"}, "Format failed oneof"},
		"malformed duration":     {map[string]string{"DYNASTY_INVITATION_TTL": "soon"}, "parse env"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(Options{Environ: tc.environ})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml"), Environ: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLogNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "tree_id", "t1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"tree_id":"t1"`)

	buf.Reset()
	Log{Level: "bogus", Format: "text"}.NewLogger(&buf).Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}
