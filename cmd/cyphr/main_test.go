package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfieandres/cyphr-tableau/internal/adapter/gateway"
	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/scheduling"
)

// writeConfig writes a config file pointing storage at a temp directory
// and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "storage:\n  db_path: " + filepath.Join(dir, "cyphr.db") + "\n" +
		"logger:\n  level: error\n  output: stderr\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	full := []string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}
	if cfgPath != "" {
		full = append(full, "--config", cfgPath)
	}
	cmd.SetArgs(append(full, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "", "version")
	require.NoError(t, err)
	assert.Equal(t, "cyphr dev\n", out)
}

func TestConfigPathResolution(t *testing.T) {
	t.Setenv("CYPHR_CONFIG", "/etc/cyphr/config.yaml")
	assert.Equal(t, "/etc/cyphr/config.yaml", (&rootOptions{}).path())
	assert.Equal(t, "local.yaml", (&rootOptions{configPath: "local.yaml"}).path())

	t.Setenv("CYPHR_CONFIG", "")
	assert.Equal(t, "config.yaml", (&rootOptions{}).path())
}

func TestAgentsListShowsSeed(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := run(t, cfg, "", "agents", "list")
	require.NoError(t, err)
	for _, want := range []string{"/analytics", "/summarization", "/general", "/store-perf", "(fallback)"} {
		assert.Contains(t, out, want)
	}
}

func TestAgentsUpsertAndRemove(t *testing.T) {
	cfg := writeConfig(t, "")
	file := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
agents:
  - endpoint_path: /forecast
    instructions: Project the next quarter.
    indicators: [forecast, projection]
    priority: 5
    temperature: 0.2
`), 0o600))

	out, err := run(t, cfg, "", "agents", "upsert", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "/forecast (forecast)")

	out, err = run(t, cfg, "", "agents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/forecast")

	out, err = run(t, cfg, "", "agents", "remove", "forecast")
	require.NoError(t, err)
	assert.Contains(t, out, "removed /forecast")

	_, err = run(t, cfg, "", "agents", "remove", "/forecast")
	assert.ErrorIs(t, err, domain.ErrEndpointNotFound)
}

func TestSeedForceRestoresConfiguredAgents(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := run(t, cfg, "", "agents", "remove", "/store-perf")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "3 agents")

	out, err = run(t, cfg, "", "seed", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "4 agents")
}

func TestRouteCommand(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"keyword score", "", []string{"--data", "quarterly summary and overview"}, "/summarization (summary-agent) via score"},
		{"question", "", []string{"--data", "x", "-q", "What is this?"}, "/general (general-agent) via question"},
		{"task alias", "", []string{"--data", "x", "--task-type", "analyze"}, "/analytics (analytics-agent) via explicit"},
		{"no match", "", []string{"--data", "hello"}, "/general (general-agent) via fallback"},
		{"stdin", "store p&l performance", []string{"--data-file", "-"}, "/store-perf (store-performance) via score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, cfg, tt.stdin, append([]string{"route"}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestAskRequiresInput(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, cfg, "", "ask")
	assert.Error(t, err)

	_, err = run(t, cfg, "", "ask", "--data", "x", "--format", "haiku")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEncrypt(t *testing.T) {
	t.Setenv("CYPHR_CONFIG_KEY", "")
	_, err := run(t, "", "", "encrypt", "sk-secret")
	assert.Error(t, err)

	t.Setenv("CYPHR_CONFIG_KEY", "passphrase")
	out, err := run(t, "", "", "encrypt", "sk-secret")
	require.NoError(t, err)
	enc := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(enc, "enc:"), enc)

	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)
}

func TestTokenCommand(t *testing.T) {
	cfg := writeConfig(t, "auth:\n  type: jwt\n  jwt_secret: cli-test-secret-0123456789abcdefgh\n  jwt_issuer: cyphr\n")

	out, err := run(t, cfg, "", "token", "--subject", "ops")
	require.NoError(t, err)

	client, err := gateway.NewJWTAuth([]byte("cli-test-secret-0123456789abcdefgh"), "cyphr").Authenticate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", client.Name)
	assert.True(t, client.IsAdmin())
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("CYPHR_JWT_SECRET", "")
	_, err := run(t, writeConfig(t, ""), "", "token")
	assert.Error(t, err)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakePurger struct{}

func (fakePurger) PurgeLogsBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func TestNewScheduler(t *testing.T) {
	cfg := config.Defaults()
	sessions := usecase.NewSessionStore(nil)

	sched, err := newScheduler(cfg, sessions, fakePurger{}, nil, nil, discard())
	require.NoError(t, err)
	require.NotNil(t, sched)

	cfg.RequestLogs.RetentionDays = 0
	_, err = newScheduler(cfg, sessions, fakePurger{}, nil, nil, discard())
	require.NoError(t, err, "retention task is skipped when retention is disabled")

	cfg.Scheduler.Tasks = append(cfg.Scheduler.Tasks, config.ScheduledTaskConfig{
		Name: "bogus", Schedule: "1m", Action: "reindex",
	})
	_, err = newScheduler(cfg, sessions, fakePurger{}, nil, nil, discard())
	assert.ErrorContains(t, err, "unknown action")
}

var _ scheduling.LogPurger = fakePurger{}
