package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_LoadSeedFeeds_ObjectList(t *testing.T) {
	path := writeSeedFile(t, `
feeds:
  - url: https://example.com/rss
    name: Example
  - url: https://other.example.org/feed.xml
`)
	feeds, err := LoadSeedFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	require.Equal(t, "Example", feeds[0].Name)
	require.Equal(t, "https://example.com/rss", feeds[0].URL)
	// name defaults to the URL host
	require.Equal(t, "other.example.org", feeds[1].Name)
}

func Test_LoadSeedFeeds_BareList(t *testing.T) {
	path := writeSeedFile(t, `
- https://a.example.com/rss
- https://b.example.com/rss
`)
	feeds, err := LoadSeedFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	require.Equal(t, "a.example.com", feeds[0].Name)
}

func Test_LoadSeedFeeds_SkipsBlankURLs(t *testing.T) {
	path := writeSeedFile(t, `
feeds:
  - url: "   "
  - url: https://kept.example.com/rss
`)
	feeds, err := LoadSeedFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	require.Equal(t, "https://kept.example.com/rss", feeds[0].URL)
}

func Test_LoadSeedFeeds_Errors(t *testing.T) {
	_, err := LoadSeedFeeds(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	empty := writeSeedFile(t, "feeds: []\n")
	_, err = LoadSeedFeeds(empty)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no feeds")

	malformed := writeSeedFile(t, "feeds: {not: [valid")
	_, err = LoadSeedFeeds(malformed)
	require.Error(t, err)
}
