package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
)

// maxResponseBytes bounds how much of the progress page is read. The page is
// a few hundred KB of markup; anything past this is not range data.
const maxResponseBytes = 8 << 20

// Client fetches the pool's per-puzzle progress page. The pool is advisory
// and unreliable: every failure comes back as pool_unavailable and the
// caller continues on local coverage alone.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient builds a client from the validated pool configuration.
func NewClient(cfg config.PoolConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Sync fetches and decodes the progress page for the puzzle, returning the
// reported coverage clamped to the puzzle's bounds. An empty result is not
// an error: the page may simply list no claimed ranges yet.
func (c *Client) Sync(ctx context.Context, p puzzle.Puzzle) ([]interval.Span, error) {
	url := fmt.Sprintf("%s/puzzle/%d", c.baseURL, p.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errdefs.PoolUnavailable(url, err)
	}
	req.Header.Set("User-Agent", "scancoord")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errdefs.PoolUnavailable(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.PoolUnavailable(url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	text, err := extractText(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errdefs.PoolDecodeFailed(url, err)
	}

	spans := DecodePageText(text)
	out := make([]interval.Span, 0, len(spans))
	for _, s := range spans {
		if clamped, ok := interval.Clamp(s, p.Range); ok {
			out = append(out, clamped)
		}
	}
	return out, nil
}

// extractText renders the visible text of an HTML document, dropping script
// and style subtrees. The range IDs sit in the page text, not in markup
// attributes, and the parser tolerates whatever malformed markup the pool
// serves.
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte('\n')
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}
