package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thearyanahmed/share-tester/internal/share"
)

var configEnv = []string{
	"NFS_PATH", "SHARE_BACKEND", "LISTEN_ADDR", "REPORT_PATH", "LOCK_TIMEOUT",
	"STRESS_TIMEOUT", "STRESS_WORKERS", "LOCK_REPEAT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearConfigEnv unsets every config variable for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{
		NFSPath:       "/mnt/nfs",
		Backend:       backendDir,
		ListenAddr:    ":8080",
		ReportPath:    "/data/reports",
		LockTimeout:   5 * time.Second,
		StressTimeout: 60 * time.Second,
		StressWorkers: 10,
		Repeat:        5,
		LogLevel:      "info",
		LogFormat:     "standard",
	}, c)
}

func TestLoadConfig_Env(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SHARE_BACKEND", "memory")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("STRESS_WORKERS", "3")
	t.Setenv("LOG_FORMAT", "json")

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, backendMemory, c.Backend)
	assert.Equal(t, 250*time.Millisecond, c.LockTimeout)
	assert.Equal(t, 3, c.StressWorkers)

	sc := c.suiteConfig()
	assert.Equal(t, SuiteConfig{LockTimeout: 250 * time.Millisecond, StressTimeout: time.Minute, StressWorkers: 3, Repeat: 5}, sc)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]struct {
		key, value string
		wantErr    string
	}{
		"backend":  {"SHARE_BACKEND", "smb", "SHARE_BACKEND must be"},
		"timeout":  {"LOCK_TIMEOUT", "0s", "timeouts must be positive"},
		"workers":  {"STRESS_WORKERS", "0", "STRESS_WORKERS must be positive"},
		"format":   {"LOG_FORMAT", "xml", "LOG_FORMAT must be"},
		"duration": {"STRESS_TIMEOUT", "soon", "STRESS_TIMEOUT"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := loadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_NewShare(t *testing.T) {
	root := t.TempDir()

	c := &Config{Backend: backendDir, NFSPath: root}
	s, target, err := c.newShare()
	require.NoError(t, err)
	assert.IsType(t, &share.DirShare{}, s)
	assert.Equal(t, root, target)

	c.Backend = backendMemory
	s, target, err = c.newShare()
	require.NoError(t, err)
	assert.IsType(t, &share.MemShare{}, s)
	assert.Equal(t, "in-process", target)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"@message":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
