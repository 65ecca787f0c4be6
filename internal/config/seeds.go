// Seed-feed loading for first-run bootstrap.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedFeed is one bootstrap feed entry.
type SeedFeed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type seedYAML struct {
	Feeds []SeedFeed `yaml:"feeds"`
}

// LoadSeedFeeds reads a YAML seed file. Two shapes are accepted: a document
// with a `feeds:` list of {url, name} pairs, or a bare list of URL strings.
// Entries without a name default to the URL host.
func LoadSeedFeeds(path string) ([]SeedFeed, error) {
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadSeedFeeds: %w", err)
	}

	var doc seedYAML
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("op=config.LoadSeedFeeds: %w", err)
	}
	feeds := doc.Feeds
	if len(feeds) == 0 {
		// Try raw YAML as a list of URL strings
		var urls []string
		if err := yaml.Unmarshal(content, &urls); err == nil {
			for _, u := range urls {
				feeds = append(feeds, SeedFeed{URL: u})
			}
		}
	}

	out := make([]SeedFeed, 0, len(feeds))
	for _, f := range feeds {
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			continue
		}
		if f.Name == "" {
			f.Name = hostOf(f.URL)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("op=config.LoadSeedFeeds: no feeds in %s", path)
	}
	return out, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
