package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; archi-agent/1.0)"

var whitespacePattern = regexp.MustCompile(`[ \t\x{00a0}]+`)
var blankLinesPattern = regexp.MustCompile(`\n{3,}`)

// fetchWebpageTool downloads a URL and extracts readable text.
type fetchWebpageTool struct {
	http          *http.Client
	truncateBytes int
}

// webSearchTool queries the DuckDuckGo HTML endpoint and scrapes results.
type webSearchTool struct {
	http *http.Client
}

// RegisterWebTools adds the research tools.
func RegisterWebTools(r *Registry, timeout time.Duration, truncateBytes int) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if truncateBytes <= 0 {
		truncateBytes = 20000
	}
	client := &http.Client{Timeout: timeout}
	if err := r.Register(&fetchWebpageTool{http: client, truncateBytes: truncateBytes}); err != nil {
		return err
	}
	return r.Register(&webSearchTool{http: client})
}

func (t *fetchWebpageTool) Name() string { return "fetch_webpage" }
func (t *fetchWebpageTool) Description() string {
	return "Fetch a URL and extract its readable text. Params: url."
}

func (t *fetchWebpageTool) Execute(ctx context.Context, params map[string]any) Result {
	rawURL, err := StringParam(params, "url")
	if err != nil {
		return Fail("%v", err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Fail("invalid url: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Fail("request: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.http.Do(req)
	if err != nil {
		return Fail("fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("fetch: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Fail("parse: %v", err)
	}
	doc.Find("script, style, noscript, iframe, nav, footer, header").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := CollapseText(doc.Find("body").Text())
	truncated := false
	if len(text) > t.truncateBytes {
		text = text[:t.truncateBytes]
		truncated = true
	}
	return Ok(map[string]any{
		"url":       rawURL,
		"title":     title,
		"text":      text,
		"truncated": truncated,
	})
}

// CollapseText normalizes extracted page text: entity decoding is handled
// by the HTML parser; this collapses runs of whitespace and blank lines.
func CollapseText(s string) string {
	s = whitespacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func (t *webSearchTool) Name() string { return "web_search" }
func (t *webSearchTool) Description() string {
	return "Search the web. Params: query, max_results (optional)."
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *webSearchTool) Execute(ctx context.Context, params map[string]any) Result {
	query, err := StringParam(params, "query")
	if err != nil {
		return Fail("%v", err)
	}
	maxResults := 5
	if v, ok := params["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fail("request: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.http.Do(req)
	if err != nil {
		return Fail("search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("search: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Fail("parse: %v", err)
	}

	var hits []searchHit
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a")
		href, _ := link.Attr("href")
		hit := searchHit{
			Title:   strings.TrimSpace(link.Text()),
			URL:     cleanDuckURL(href),
			Snippet: CollapseText(sel.Find(".result__snippet").Text()),
		}
		if hit.Title != "" && hit.URL != "" {
			hits = append(hits, hit)
		}
		return len(hits) < maxResults
	})

	if len(hits) == 0 {
		return Fail("no results for %q", query)
	}
	return Ok(map[string]any{"query": query, "results": hits})
}

// cleanDuckURL unwraps DuckDuckGo's redirect links (/l/?uddg=<encoded>).
func cleanDuckURL(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if decoded, derr := url.QueryUnescape(target); derr == nil {
			return decoded
		}
	}
	if parsed.Scheme == "" {
		return fmt.Sprintf("https:%s", href)
	}
	return href
}
