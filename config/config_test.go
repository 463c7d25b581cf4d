package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"forum-notifier/pkg/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParsePreservesOrder(t *testing.T) {
	data := []byte(`
zeta:
  baseurl: https://zeta.example/forum/
  tech:
    id: 9
    threads: [300, 100, 200]
  general:
    id: 2
    threads:
      - 5
alpha:
  general:
    id: 1
    threads: [7]
  baseurl: https://alpha.example
`)

	cfg, err := Parse(data, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []notifier.Target{
		{Forum: "zeta", BaseURL: "https://zeta.example/forum/", Subforum: "tech", SubforumID: "9", ThreadID: "300"},
		{Forum: "zeta", BaseURL: "https://zeta.example/forum/", Subforum: "tech", SubforumID: "9", ThreadID: "100"},
		{Forum: "zeta", BaseURL: "https://zeta.example/forum/", Subforum: "tech", SubforumID: "9", ThreadID: "200"},
		{Forum: "zeta", BaseURL: "https://zeta.example/forum/", Subforum: "general", SubforumID: "2", ThreadID: "5"},
		{Forum: "alpha", BaseURL: "https://alpha.example", Subforum: "general", SubforumID: "1", ThreadID: "7"},
	}, cfg.Targets())
}

func TestParseSkipRules(t *testing.T) {
	data := []byte(`
nobase:
  general:
    id: 1
    threads: [1]
badbase:
  baseurl: ftp://files.example/
  general:
    id: 2
    threads: [2]
ok:
  baseurl: https://ok.example/
  noid:
    threads: [3]
  nullid:
    id:
    threads: [4]
  nothreads:
    id: 5
  emptythreads:
    id: 6
    threads:
  watched:
    id: 7
    threads: [8, "a/b", ".", "..", 9]
scalar: just a string
`)

	cfg, err := Parse(data, testLogger())
	require.NoError(t, err)
	require.Len(t, cfg.Forums, 1)

	forum := cfg.Forums[0]
	assert.Equal(t, "ok", forum.Name)
	assert.Equal(t, []Subforum{
		{Name: "nothreads", ID: "5"},
		{Name: "emptythreads", ID: "6"},
		{Name: "watched", ID: "7", Threads: []string{"8", "9"}},
	}, forum.Subforums)

	targets := cfg.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "https://ok.example/viewtopic.php?f=7&t=8", targets[0].PageURL())
}

func TestParseRejectsUnstorableThreadIDs(t *testing.T) {
	data := []byte(`
example:
  baseurl: https://f.example/
  general:
    id: 7
    threads: [".", "..", "a\\b", "", 42]
`)

	cfg, err := Parse(data, testLogger())
	require.NoError(t, err)

	targets := cfg.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "42", targets[0].ThreadID)
}

func TestParseDuplicateThreads(t *testing.T) {
	data := []byte(`
a:
  baseurl: https://a.example/
  x:
    id: 1
    threads: [10, 11, 10]
b:
  baseurl: https://b.example/
  y:
    id: 2
    threads: [11, 12]
`)

	cfg, err := Parse(data, testLogger())
	require.NoError(t, err)

	var ids []string
	for _, target := range cfg.Targets() {
		ids = append(ids, target.ThreadID)
	}
	assert.Equal(t, []string{"10", "11", "12"}, ids)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "comments only", data: "# nothing here\n"},
		{name: "not a mapping", data: "- a\n- b\n"},
		{name: "invalid yaml", data: "forum: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), testLogger())
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forums.yaml")
	require.NoError(t, os.WriteFile(path, []byte("example:\n  baseurl: https://f.example/\n  general:\n    id: 7\n    threads: [42]\n"), 0o600))

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Len(t, cfg.Targets(), 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
