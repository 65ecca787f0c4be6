package usecase

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/pkg/textx"
)

// ExportService re-renders ranked items as an RSS 2.0 document. The same
// story syndicated by several sources (same normalised link, or same
// normalised title) collapses into one entry whose rank is the average of
// the duplicates.
type ExportService struct {
	Store domain.Store

	// ChannelTitle/Link/Description describe the exported channel.
	ChannelTitle       string
	ChannelLink        string
	ChannelDescription string
}

// NewExportService constructs an ExportService with the default channel
// header.
func NewExportService(store domain.Store) ExportService {
	return ExportService{
		Store:              store,
		ChannelTitle:       "Curated News",
		ChannelLink:        "https://github.com/feedloom/curator",
		ChannelDescription: "High-ranking items from the curated news pipeline",
	}
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Generator     string    `xml:"generator"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title,omitempty"`
	Link        string   `xml:"link,omitempty"`
	Description string   `xml:"description,omitempty"`
	PubDate     string   `xml:"pubDate,omitempty"`
	GUID        *rssGUID `xml:"guid,omitempty"`
	Score       string   `xml:"score,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// group is one deduplicated story: the first item seen plus the ranks of
// every duplicate.
type group struct {
	entry domain.Entry
	guid  string
	ranks []float64
}

// RenderRSS renders every item with rank >= minRank, best first, as RSS 2.0.
func (s ExportService) RenderRSS(ctx domain.Context, minRank float64) (string, error) {
	var items []domain.Item
	err := s.Store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		items, err = tx.RankedItems(ctx, minRank)
		return err
	})
	if err != nil {
		return "", err
	}

	groups := dedupe(items)

	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:         s.ChannelTitle,
			Link:          s.ChannelLink,
			Description:   s.ChannelDescription,
			LastBuildDate: time.Now().UTC().Format(time.RFC1123Z),
			Generator:     "curator",
		},
	}
	for _, g := range groups {
		var sum float64
		for _, r := range g.ranks {
			sum += r
		}
		avg := sum / float64(len(g.ranks))

		item := rssItem{
			Title:       textx.StripHTML(g.entry.Title),
			Link:        g.entry.BestLink(),
			Description: textx.StripHTML(g.entry.Summary),
			PubDate:     g.entry.Published,
			GUID:        &rssGUID{IsPermaLink: "false", Value: g.guid},
			Score:       fmt.Sprintf("%.1f", avg),
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("op=export.render: %w", err)
	}
	return xml.Header + string(out), nil
}

// dedupe folds items into story groups. Items arrive rank-descending, so
// the first item of each group is the best-ranked representative and group
// order preserves the overall ranking.
func dedupe(items []domain.Item) []group {
	var groups []group
	linkIndex := map[string]int{}
	titleIndex := map[string]int{}

	for _, it := range items {
		entry, err := domain.DecodeEntry(it.Payload)
		if err != nil {
			continue
		}
		link := strings.ToLower(strings.TrimSpace(entry.BestLink()))
		title := strings.ToLower(textx.StripHTML(entry.Title))

		idx := -1
		if link != "" {
			if i, ok := linkIndex[link]; ok {
				idx = i
			}
		}
		if idx < 0 && title != "" {
			if i, ok := titleIndex[title]; ok {
				idx = i
			}
		}

		if idx >= 0 {
			groups[idx].ranks = append(groups[idx].ranks, *it.Rank)
			continue
		}

		groups = append(groups, group{entry: entry, guid: it.GUID, ranks: []float64{*it.Rank}})
		idx = len(groups) - 1
		if link != "" {
			linkIndex[link] = idx
		}
		if title != "" {
			titleIndex[title] = idx
		}
	}
	return groups
}
