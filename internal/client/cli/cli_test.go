package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/pkg/idx"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"}, {"sync"}, {"login"}, {"logout"}, {"status"},
		{"queue", "list"}, {"queue", "export"}, {"queue", "purge"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
}

func TestInvalidFormatIsRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"status", "--format", "xml", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.ErrorContains(t, err, "invalid format")
}

func sampleRecords() []domain.OfflineRecord {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	synced := created.Add(time.Minute)
	return []domain.OfflineRecord{
		{ID: idx.NewAt(created), Kind: domain.KindOrder, Payload: json.RawMessage(`{"sku":"A1","qty":2}`), CreatedAt: created},
		{ID: idx.NewAt(created.Add(time.Second)), Kind: domain.KindPayment, Payload: json.RawMessage(`{"amount":1200}`), CreatedAt: created, Synced: true, SyncedAt: &synced},
	}
}

func TestWriteRecordsYAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeRecords(&buf, "yaml", sampleRecords()))

	var views []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, 2)
	require.Equal(t, "order", views[0]["kind"])
	require.Equal(t, map[string]any{"sku": "A1", "qty": 2}, views[0]["payload"])
	require.Equal(t, true, views[1]["synced"])
}

func TestWriteRecordsJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeRecords(&buf, "json", sampleRecords()))

	var views []RecordView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, 2)
	require.Equal(t, "payment", views[1].Kind)
	require.NotNil(t, views[1].SyncedAt)
}

func TestWriteRecordsTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeRecords(&buf, "text", sampleRecords()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "order")
	require.Contains(t, lines[1], "no")
}

// execute runs the CLI against a fresh device database.
func execute(t *testing.T, dir string, args ...string) string {
	t.Helper()

	t.Setenv("MARKET_API_URL", "http://127.0.0.1:1")
	t.Setenv("MARKET_DATABASE_FILE", filepath.Join(dir, "client.db"))
	t.Setenv("MARKET_DEVICE_KEY_FILE", filepath.Join(dir, "device.key"))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", filepath.Join(dir, "none.env")))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestLoginStatusLogout(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, dir, "status", "--format", "json")
	var st Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.False(t, st.SignedIn)

	execute(t, dir, "login", "--access", "access-token", "--refresh", "refresh-token")

	out = execute(t, dir, "status", "--format", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.True(t, st.SignedIn)
	require.Zero(t, st.Pending)

	execute(t, dir, "logout")

	out = execute(t, dir, "status", "--format", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.False(t, st.SignedIn)
}

func TestQueueCommandsOnEmptyQueue(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, dir, "queue", "list")
	require.True(t, strings.HasPrefix(out, "ID"))

	out = execute(t, dir, "queue", "export", "--format", "yaml")
	require.Equal(t, "[]\n", out)

	out = execute(t, dir, "queue", "purge")
	require.Equal(t, "purged 0 synced records\n", out)
}
