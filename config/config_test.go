package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env
	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "")

	c, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, config.DriverSQLite, c.DBDriver)
	assert.Equal(t, 12*time.Hour, c.SessionTTL)
	assert.True(t, c.UsesSandbox())
	assert.NoError(t, c.Validate())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	// GIVEN: PORT and DB_PATH in the environment
	// WHEN: -port is also passed on the command line
	// THEN: The flag wins, the untouched env value stays

	chdir(t, t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", "/tmp/b.db")
	t.Setenv("FLASH_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	c, err := config.Load([]string{"-port", "9100"})
	require.NoError(t, err)

	assert.Equal(t, 9100, c.Port)
	assert.Equal(t, "/tmp/b.db", c.DBPath)
	assert.Equal(t, 3*time.Second, c.FlashTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := config.Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"postgres without url", func(c *config.Config) { c.DBDriver = config.DriverPostgres; c.DatabaseURL = "" }},
		{"unknown driver", func(c *config.Config) { c.DBDriver = "mysql" }},
		{"s3 without bucket", func(c *config.Config) { c.UploadBackend = config.UploadS3 }},
		{"half s3 credentials", func(c *config.Config) {
			c.UploadBackend = config.UploadS3
			c.S3Bucket = "b"
			c.S3AccessKeyID = "id"
		}},
		{"zero concurrency", func(c *config.Config) { c.SendConcurrency = 0 }},
		{"seed email only", func(c *config.Config) { c.SeedOperatorEmail = "ops@example.com" }},
		{"production dev secret", func(c *config.Config) {
			c.Environment = "production"
			c.FlashBaseURL = "https://api.flash.example"
			c.FlashWebhookSecret = "whsec"
		}},
		{"production sandbox", func(c *config.Config) {
			c.Environment = "production"
			c.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.FlashWebhookSecret = "whsec"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
