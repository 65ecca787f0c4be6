package pipeline

import (
	"fmt"
	"strings"

	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/pkg/textx"
)

// maxSummaryLen is the cap on summary text in a published message.
const maxSummaryLen = 200

// FormatMessage renders one scored item for the chat channel:
//
//	**{rank}** · {source}
//
//	**{title}**
//	{summary, truncated, omitted when absent}
//
//	{link}
//
// The summary is HTML-stripped first; feeds routinely ship markup fragments.
func FormatMessage(rank float64, sourceName string, entry domain.Entry) string {
	title := textx.StripHTML(entry.Title)
	if title == "" {
		title = entry.ID
	}

	lines := []string{
		fmt.Sprintf("**%.1f** · %s", rank, sourceName),
		"",
		fmt.Sprintf("**%s**", title),
	}
	if summary := textx.StripHTML(entry.Summary); summary != "" {
		lines = append(lines, textx.Truncate(summary, maxSummaryLen))
	}
	lines = append(lines, "", entry.BestLink())
	return strings.Join(lines, "\n")
}
