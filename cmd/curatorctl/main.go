// Command curatorctl is the operator CLI for a running curator server.
//
// Usage:
//
//	curatorctl [-base http://localhost:8080] feeds add <url> [name]
//	curatorctl feeds list
//	curatorctl feeds rm <id>
//	curatorctl stats
//	curatorctl [-o out.rss] export-rss [min_rank]
//	curatorctl sync-training
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

type client struct {
	base string
	out  string
	http *http.Client
}

func main() {
	base := flag.String("base", "http://localhost:8080", "base URL of the curator server")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	out := flag.String("o", "", "write the response body to a file instead of stdout")
	flag.Parse()

	c := &client{base: *base, out: *out, http: &http.Client{Timeout: *timeout}}
	ctx := context.Background()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "feeds":
		err = c.feeds(ctx, args[1:])
	case "stats":
		err = c.get(ctx, "/v1/stats")
	case "export-rss":
		path := "/export.rss"
		if len(args) > 1 {
			if _, perr := strconv.ParseFloat(args[1], 64); perr != nil {
				err = fmt.Errorf("min_rank must be a number, got %q", args[1])
				break
			}
			path += "?min_rank=" + url.QueryEscape(args[1])
		}
		err = c.get(ctx, path)
	case "sync-training":
		err = c.post(ctx, "/v1/training/sync", nil)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: curatorctl [-base URL] <feeds add|feeds list|feeds rm|stats|export-rss|sync-training> [args]")
}

func (c *client) feeds(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("feeds subcommand required: add, list or rm")
	}
	switch args[0] {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("feeds add needs a url")
		}
		body := map[string]string{"url": args[1]}
		if len(args) > 2 {
			body["name"] = args[2]
		}
		return c.post(ctx, "/v1/feeds", body)
	case "list":
		return c.get(ctx, "/v1/feeds")
	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("feeds rm needs an id")
		}
		if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("feed id must be an integer, got %q", args[1])
		}
		return c.do(ctx, http.MethodDelete, "/v1/feeds/"+args[1], nil)
	default:
		return fmt.Errorf("unknown feeds subcommand %q", args[0])
	}
}

func (c *client) get(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, path, rd)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if c.out != "" && resp.StatusCode < 400 {
		if err := os.WriteFile(c.out, out, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(out), c.out)
	} else if len(out) > 0 {
		fmt.Println(string(bytes.TrimSpace(out)))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
