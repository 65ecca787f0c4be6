// Package feed fetches source URLs and projects RSS/Atom entries into the
// pipeline's entry payload format.
package feed

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mmcdole/gofeed"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/feedloom/curator/internal/domain"
)

// maxBodyBytes caps feed downloads; anything larger is not a feed we want.
const maxBodyBytes = 10 << 20

// Decoder implements domain.SourceDecoder over HTTP. Each Decode is one
// bounded fetch plus a parse; failures are reported to the caller and the
// polling scheduler decides what to do with them.
type Decoder struct {
	client *http.Client
	parser *gofeed.Parser
}

// New builds a decoder whose fetches are bounded by timeout.
func New(timeout time.Duration) *Decoder {
	return &Decoder{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		parser: gofeed.NewParser(),
	}
}

// Decode fetches url and returns one DecodedItem per feed entry. Entries
// without a guid or link are skipped with a warning, matching the rule that
// a bad entry never fails the whole batch.
func (d *Decoder) Decode(ctx domain.Context, url string) ([]domain.DecodedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("op=feed.decode: %w: %v", domain.ErrDecode, err)
	}
	req.Header.Set("User-Agent", "curator/1.0 (+feed poller)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=feed.decode: %w: %v", domain.ErrDecode, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("op=feed.decode: %w: status %d from %s", domain.ErrDecode, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("op=feed.decode: %w: %v", domain.ErrDecode, err)
	}

	if mime := mimetype.Detect(body); !feedLike(mime) {
		return nil, fmt.Errorf("op=feed.decode: %w: unsupported content type %s from %s", domain.ErrDecode, mime.String(), url)
	}

	parsed, err := d.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("op=feed.decode: %w: %v", domain.ErrDecode, err)
	}

	items := make([]domain.DecodedItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		guid := entryGUID(entry)
		if guid == "" {
			slog.Warn("skipping entry without guid", slog.String("url", url))
			continue
		}
		payload, err := domain.EncodeEntry(toEntry(entry))
		if err != nil {
			slog.Warn("skipping unencodable entry", slog.String("url", url), slog.String("guid", guid), slog.Any("error", err))
			continue
		}
		items = append(items, domain.DecodedItem{GUID: guid, Title: entry.Title, Payload: payload})
	}
	return items, nil
}

// feedLike accepts XML documents and plain text; feeds are regularly served
// as text/plain by misconfigured hosts.
func feedLike(m *mimetype.MIME) bool {
	for cur := m; cur != nil; cur = cur.Parent() {
		s := cur.String()
		if strings.Contains(s, "xml") || strings.HasPrefix(s, "text/") {
			return true
		}
	}
	return false
}

// entryGUID prefers the feed's own id and falls back to the entry link, the
// same rule feed readers use for feeds that never set guids.
func entryGUID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	return entry.Link
}

// toEntry projects a parsed feed entry into the internal wire form.
func toEntry(entry *gofeed.Item) domain.Entry {
	e := domain.Entry{
		ID:        entry.GUID,
		Title:     entry.Title,
		Link:      entry.Link,
		Summary:   entry.Description,
		Published: entry.Published,
		Updated:   entry.Updated,
		Content:   entry.Content,
	}
	if entry.Author != nil {
		e.Author = entry.Author.Name
	}
	for _, href := range entry.Links {
		if href == "" {
			continue
		}
		e.Links = append(e.Links, domain.EntryLink{Href: href})
	}
	return e
}
