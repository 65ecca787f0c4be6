package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedloom/curator/internal/domain"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example News</title>
    <link>https://example.com</link>
    <item>
      <title>First story</title>
      <link>https://example.com/first</link>
      <guid>first-guid</guid>
      <description>Something happened.</description>
    </item>
    <item>
      <title>No guid, has link</title>
      <link>https://example.com/second</link>
    </item>
  </channel>
</rss>`

func TestDecodeProjectsEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	items, err := d.Decode(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "first-guid", items[0].GUID)
	assert.Equal(t, "First story", items[0].Title)

	entry, err := domain.DecodeEntry(items[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/first", entry.BestLink())
	assert.Equal(t, "Something happened.", entry.Summary)

	// the guid-less entry falls back to its link
	assert.Equal(t, "https://example.com/second", items[1].GUID)
}

func TestDecodeHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Decode(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodeRejectsNonFeedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe})
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Decode(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodeUnreachableHost(t *testing.T) {
	d := New(500 * time.Millisecond)
	_, err := d.Decode(context.Background(), "http://127.0.0.1:1/feed.xml")
	require.ErrorIs(t, err, domain.ErrDecode)
}
