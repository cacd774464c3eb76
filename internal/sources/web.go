package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
)

// Fetcher is the shared polite HTTP client for the web adapters: one rate
// limiter, bounded response bodies, HTML/XML content types only.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
	logger    arbor.ILogger
}

// NewFetcher builds a fetcher from crawler configuration.
func NewFetcher(cfg common.CrawlerConfig, logger arbor.ILogger) *Fetcher {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	maxBody := int64(cfg.MaxBodySize)
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "colligo/" + common.GetVersion()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		userAgent: userAgent,
		maxBody:   maxBody,
		logger:    logger,
	}
}

// Fetch returns the page body, or an error for non-2xx statuses and
// non-HTML/XML content types. Callers decide whether a failure is skippable.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	ctype := resp.Header.Get("Content-Type")
	if !strings.Contains(ctype, "text/html") && !strings.Contains(ctype, "xml") {
		return "", fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ctype)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// page is a parsed HTML document reduced to its content.
type page struct {
	title    string
	markdown string
	doc      *goquery.Document
}

var htmlConverter = md.NewConverter("", true, nil)

// parsePage strips non-content elements and converts the body to markdown.
func parsePage(html string) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, iframe, header, footer, nav").Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return &page{
		title:    title,
		markdown: strings.TrimSpace(htmlConverter.Convert(sel)),
		doc:      doc,
	}, nil
}

func pageItem(pageURL string, p *page) models.IngestItem {
	md := models.Metadata{models.MetaSourceURL: pageURL}
	if p.title != "" {
		md[models.MetaTitle] = p.title
	}
	return models.NewIngestItem(pageURL, p.markdown, md)
}

// URLSource fetches a fixed list of pages, one item per page, doc_id = URL.
// Unfetchable or empty pages are skipped.
type URLSource struct {
	URLs    []string
	fetcher *Fetcher
	logger  arbor.ILogger
}

// NewURLSource builds the fixed-URL adapter.
func NewURLSource(fetcher *Fetcher, urls []string, logger arbor.ILogger) *URLSource {
	return &URLSource{URLs: urls, fetcher: fetcher, logger: logger}
}

// Stream fetches each URL in order.
func (s *URLSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	for _, u := range s.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		html, err := s.fetcher.Fetch(ctx, u)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", u).Msg("Skipping unfetchable page")
			continue
		}
		p, err := parsePage(html)
		if err != nil || p.markdown == "" {
			continue
		}
		if err := emit(pageItem(u, p)); err != nil {
			return err
		}
	}
	return nil
}

// SitemapSource expands a sitemap's <loc> entries and streams them like a
// URLSource. An unreachable sitemap is structural and aborts.
type SitemapSource struct {
	SitemapURL string
	Limit      int
	fetcher    *Fetcher
	logger     arbor.ILogger
}

// NewSitemapSource builds the sitemap adapter.
func NewSitemapSource(fetcher *Fetcher, sitemapURL string, limit int, logger arbor.ILogger) *SitemapSource {
	return &SitemapSource{SitemapURL: sitemapURL, Limit: limit, fetcher: fetcher, logger: logger}
}

// Stream fetches the sitemap, then its pages.
func (s *SitemapSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	body, err := s.fetcher.Fetch(ctx, s.SitemapURL)
	if err != nil {
		return fmt.Errorf("failed to fetch sitemap: %w", err)
	}

	urls := extractLocs(body)
	if s.Limit > 0 && len(urls) > s.Limit {
		urls = urls[:s.Limit]
	}
	s.logger.Info().Str("sitemap", s.SitemapURL).Int("urls", len(urls)).Msg("Streaming sitemap pages")

	sub := NewURLSource(s.fetcher, urls, s.logger)
	return sub.Stream(ctx, emit)
}

// extractLocs pulls every <loc> value from a sitemap or sitemap index.
func extractLocs(body string) []string {
	var urls []string
	dec := xml.NewDecoder(strings.NewReader(body))
	inLoc := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inLoc = t.Name.Local == "loc"
		case xml.EndElement:
			inLoc = false
		case xml.CharData:
			if inLoc {
				if u := strings.TrimSpace(string(t)); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	return urls
}

// WebsiteSource crawls breadth-first from the start URLs up to MaxPages,
// staying within AllowedPrefixes, or the start hosts when none are given.
type WebsiteSource struct {
	StartURLs       []string
	AllowedPrefixes []string
	MaxPages        int
	fetcher         *Fetcher
	logger          arbor.ILogger
}

// NewWebsiteSource builds the crawling adapter. MaxPages defaults to 100.
func NewWebsiteSource(fetcher *Fetcher, startURLs []string, logger arbor.ILogger) *WebsiteSource {
	return &WebsiteSource{
		StartURLs: startURLs,
		MaxPages:  100,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Stream crawls until the frontier is exhausted or MaxPages visited. At
// least one start URL must be reachable.
func (s *WebsiteSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	seen := make(map[string]struct{})
	queue := make([]string, 0, len(s.StartURLs))
	for _, u := range s.StartURLs {
		queue = append(queue, dropFragment(u))
	}

	fetched := 0
	for len(queue) > 0 && len(seen) < maxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageURL := queue[0]
		queue = queue[1:]
		if _, dup := seen[pageURL]; dup || !s.allowed(pageURL) {
			continue
		}
		seen[pageURL] = struct{}{}

		html, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", pageURL).Msg("Skipping unfetchable page")
			continue
		}
		fetched++

		p, err := parsePage(html)
		if err != nil {
			continue
		}
		if p.markdown != "" {
			if err := emit(pageItem(pageURL, p)); err != nil {
				return err
			}
		}

		queue = append(queue, s.links(pageURL, p.doc, seen)...)
	}

	if fetched == 0 {
		return fmt.Errorf("no start url reachable")
	}
	return nil
}

func (s *WebsiteSource) links(base string, doc *goquery.Document, seen map[string]struct{}) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := dropFragment(baseURL.ResolveReference(ref).String())
		if _, dup := seen[abs]; dup || !s.allowed(abs) {
			return
		}
		out = append(out, abs)
	})
	return out
}

// allowed checks prefixes, or same-host containment when none are configured.
func (s *WebsiteSource) allowed(pageURL string) bool {
	if len(s.AllowedPrefixes) == 0 {
		host := hostOf(pageURL)
		for _, start := range s.StartURLs {
			if host == hostOf(start) {
				return true
			}
		}
		return false
	}
	for _, prefix := range s.AllowedPrefixes {
		if strings.HasPrefix(pageURL, prefix) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func dropFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
