package rawdl

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	pageAttrs = []struct {
		selector string
		attr     string
	}{
		{"video[src]", "src"},
		{"source[src]", "src"},
		{"a[href]", "href"},
		{"link[href]", "href"},
		{"meta[content]", "content"},
	}
	// quoted manifest references in inline scripts and data attributes
	quotedManifestRe = regexp.MustCompile(`["']([^"'\s<>]+\.(?:m3u8|mpd)(?:\?[^"'\s<>]*)?)["']`)
)

// Discover fetches the page at pageURL and returns the absolute URLs of
// the HLS and DASH manifests it references, without duplicates. Element
// attributes come first, then references quoted in the page source.
func Discover(ctx context.Context, client *Client, pageURL string) ([]string, error) {
	body, status, err := client.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get page %s: server returned %d", pageURL, status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}

	var refs []string
	for _, pa := range pageAttrs {
		doc.Find(pa.selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(pa.attr); ok && IsRawURL(v) {
				refs = append(refs, v)
			}
		})
	}
	for _, m := range quotedManifestRe.FindAllStringSubmatch(string(body), -1) {
		ref := strings.ReplaceAll(html.UnescapeString(m[1]), `\/`, "/")
		refs = append(refs, ref)
	}

	seen := make(map[string]bool)
	var found []string
	for _, ref := range refs {
		u, err := GetFullURL(ref, pageURL)
		if err != nil {
			logger.Debug().Err(err).Str("ref", ref).Msg("skipping manifest reference")
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		found = append(found, u)
	}
	logger.Debug().Int("count", len(found)).Msgf("manifests found on %s", pageURL)
	return found, nil
}
