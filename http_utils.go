package rawdl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	schemeAuthorityRe = regexp.MustCompile(`^(https?://[^/]+)/`)
	// everything up to the last "/" of the path, query string left out
	lastSegmentRe = regexp.MustCompile(`^([^?]+)/[^/]*(\?.*)?$`)
)

// GetFullURL turns ref into an absolute URL using sourceURL as the base.
//
// References starting with "http" are returned as is. References starting
// with "/" are appended to the scheme and host of sourceURL. Anything else
// is joined with the directory of sourceURL, ignoring its query string.
func GetFullURL(ref, sourceURL string) (string, error) {
	if strings.HasPrefix(ref, "http") {
		return ref, nil
	}
	if strings.HasPrefix(ref, "/") {
		m := schemeAuthorityRe.FindStringSubmatch(sourceURL)
		if m == nil {
			return "", fmt.Errorf("%w: %q", ErrMalformedSourceURL, sourceURL)
		}
		return m[1] + ref, nil
	}

	base, err := url.Parse(lastSegmentRe.ReplaceAllString(sourceURL, "${1}/"))
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// SplitHeader parses "key1=value1;key2=value2" into a map. Empty segments
// are skipped; a segment that is not exactly one key=value pair is rejected.
func SplitHeader(s string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		kv := strings.Split(part, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, part)
		}
		headers[kv[0]] = kv[1]
	}
	return headers, nil
}
