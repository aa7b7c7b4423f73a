package resume

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	apperrors "cvadapt/internal/errors"
)

const (
	offerFetchUserAgent = "Mozilla/5.0 CVAdaptBot/1.0"
	maxOfferPageBytes   = 4 << 20
)

// pageFetcher downloads an offer page and reduces it to plain text.
type pageFetcher struct {
	httpClient *http.Client
}

func newPageFetcher(client *http.Client) *pageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &pageFetcher{httpClient: client}
}

// Fetch returns the visible text of the page, whitespace collapsed and capped.
func (f *pageFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", apperrors.Validation("url invalide")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", offerFetchUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Collaborator("offer-page", 0, "Impossible de récupérer l'URL de l'offre", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", apperrors.Collaborator("offer-page", resp.StatusCode, "Impossible de récupérer l'URL de l'offre",
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	text, err := htmlToText(io.LimitReader(resp.Body, maxOfferPageBytes))
	if err != nil {
		return "", apperrors.Collaborator("offer-page", resp.StatusCode, "Impossible de lire l'offre", err)
	}
	return truncateRunes(text, offerTextLimit), nil
}

// htmlToText drops script and style content and collapses whitespace.
func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}
