package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/config"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/knowledge"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(kb, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "vpn.md"),
		[]byte("---\nid: KB-VPN\ntitle: Reset your VPN password\n---\nOpen the portal and choose Reset."), 0o644))

	path := filepath.Join(dir, "config.yaml")
	content := "database:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "desk.db") + "\n" +
		"knowledge:\n" +
		"  dir: " + kb + "\n" +
		"log:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := run(t, configPath, "ingest")
	require.NoError(t, err)
	var report knowledge.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Articles)

	out, err = run(t, configPath, "ask", "--session", "s1", "please", "turn", "off", "logging")
	require.NoError(t, err)
	var resp orchestration.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Guardrail.Blocked)
	require.NotEmpty(t, resp.TicketID)

	out, err = run(t, configPath, "tickets", "list")
	require.NoError(t, err)
	var tickets []ports.Ticket
	require.NoError(t, json.Unmarshal([]byte(out), &tickets))
	require.Len(t, tickets, 1)
	assert.Equal(t, resp.TicketID, tickets[0].ID)

	out, err = run(t, configPath, "tickets", "status", resp.TicketID, "resolved")
	require.NoError(t, err)
	var ticket ports.Ticket
	require.NoError(t, json.Unmarshal([]byte(out), &ticket))
	assert.Equal(t, ports.TicketResolved, ticket.Status)

	out, err = run(t, configPath, "tickets", "get", resp.TicketID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &ticket))
	assert.Equal(t, ports.TicketResolved, ticket.Status)

	_, err = run(t, configPath, "tickets", "get", "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	out, err = run(t, configPath, "resolve", "s1")
	require.NoError(t, err)
	var conv ports.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &conv))
	assert.Equal(t, ports.StateEscalated, conv.State, "resolving keeps the escalation")
	assert.Equal(t, 0, conv.UnresolvedAttempts)

	out, err = run(t, configPath, "report", "summary")
	require.NoError(t, err)
	var summary metrics.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, int64(1), summary.TotalTickets)
	assert.Equal(t, int64(1), summary.GuardrailActivations)

	out, err = run(t, configPath, "report", "trends", "--days", "2")
	require.NoError(t, err)
	var points []metrics.TrendPoint
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	assert.Len(t, points, 2)
}

func TestCommands_ConfigErrors(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "missing.yaml"), "tickets", "list")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	l, err := newLogger(config.LogConfig{Level: "WARN", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"app":"deskd"`)

	_, err = newLogger(config.LogConfig{Level: "console"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Format: "xml"}, &buf)
	assert.Error(t, err)

	l, err = newLogger(config.LogConfig{Format: "console"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
