package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTenants = `
tenants:
  alice:
    - name: briefing
      kind: digest
      cron: "0 7 * * 1-5"
      timezone: Europe/Berlin
      conversation_ref: chat-1
      priority: 5
    - name: cleanup
      cron: "@weekly"
      command: cleanup --old
      enabled: false
  bob:
    - name: backup
      cron: "30 2 * * *"
      prompt: Back up the notes
`

const aliceOnly = `
tenants:
  alice:
    - name: briefing
      kind: digest
      cron: "0 8 * * 1-5"
`

func writeDefinitions(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestFileSourceChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	src := NewFileSource(path)

	changes, err := src.Changes()
	require.NoError(t, err)
	assert.Nil(t, changes, "a missing file yields nothing")

	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	writeDefinitions(t, path, twoTenants, base)

	changes, err = src.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Len(t, changes["alice"], 2)

	briefing := changes["alice"][0]
	assert.Equal(t, "briefing", briefing.Name)
	assert.Equal(t, domain.JobKindDigest, briefing.Kind)
	assert.Equal(t, "0 7 * * 1-5", briefing.CronExpression)
	assert.Equal(t, "Europe/Berlin", briefing.TimeZone)
	assert.Equal(t, 5, briefing.Priority)
	require.NotNil(t, briefing.ConversationRef)
	assert.Equal(t, "chat-1", *briefing.ConversationRef)
	assert.True(t, briefing.Enabled)

	cleanup := changes["alice"][1]
	assert.False(t, cleanup.Enabled)
	assert.Equal(t, domain.DefaultPriority, cleanup.Priority)

	changes, err = src.Changes()
	require.NoError(t, err)
	assert.Nil(t, changes, "unchanged mtime is not reread")

	writeDefinitions(t, path, aliceOnly, base.Add(time.Minute))
	changes, err = src.Changes()
	require.NoError(t, err)
	require.Contains(t, changes, "bob")
	assert.Empty(t, changes["bob"], "removed tenants are cleared")
	assert.Len(t, changes["alice"], 1)

	src.Invalidate()
	changes, err = src.Changes()
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestFileSourceInvalidYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	writeDefinitions(t, path, "tenants: [not, a, map", time.Now())

	_, err := NewFileSource(path).Changes()
	assert.Error(t, err)
}

func TestTickSyncsFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	writeDefinitions(t, path, twoTenants, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))

	c := &clock{now: at("2026-05-04T09:00:00Z")}
	e, jobs := newTestEvaluator(t, c, &recordingCreator{})
	e.source = NewFileSource(path)
	ctx := context.Background()

	_, err := e.Tick(ctx)
	require.NoError(t, err)

	alice, err := jobs.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 2)
	bob, err := jobs.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "backup", bob[0].Name)
}
