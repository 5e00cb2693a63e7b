package rawdl

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// rawKinds lists the manifest markers looked for in a raw URL, in the
// order their parsers run.
var rawKinds = []struct {
	kind   Kind
	marker string
}{
	{HLS, ".m3u8"},
	{DASH, ".mpd"},
}

// Raw handles URLs pointing straight at an HLS playlist or DASH manifest.
type Raw struct {
	Parsers map[Kind]Parser
}

// IsRawURL reports whether rawURL names a manifest Raw knows about.
func IsRawURL(rawURL string) bool {
	for _, rk := range rawKinds {
		if strings.Contains(rawURL, rk.marker) {
			return true
		}
	}
	return false
}

// Title derives the output title from the path segment before the last
// "/" of rawURL. It is empty when rawURL has no "/".
func Title(rawURL string) string {
	i := strings.LastIndex(rawURL, "/")
	if i < 0 {
		return ""
	}
	dir := rawURL[:i]
	return dir[strings.LastIndex(dir, "/")+1:]
}

// Handle sets output["title"] and returns the streams found at rawURL.
//
// Each marker (".m3u8", ".mpd") found anywhere in rawURL triggers its own
// GET and parser call, HLS first; a URL containing both is fetched twice.
// A URL with neither yields nothing. Nothing is fetched until the sequence
// is iterated, and iteration stops at the first error.
func (r *Raw) Handle(ctx context.Context, config *Config, client *Client, rawURL string, output Output) iter.Seq2[Stream, error] {
	output["title"] = Title(rawURL)

	return func(yield func(Stream, error) bool) {
		for _, rk := range rawKinds {
			if !strings.Contains(rawURL, rk.marker) {
				continue
			}
			streams, err := r.parse(ctx, rk.kind, config, client, rawURL, output)
			if err != nil {
				yield(Stream{}, err)
				return
			}
			for _, s := range streams {
				if !yield(s, nil) {
					return
				}
			}
		}
	}
}

func (r *Raw) parse(ctx context.Context, kind Kind, config *Config, client *Client, rawURL string, output Output) ([]Stream, error) {
	parser, ok := r.Parsers[kind]
	if !ok {
		return nil, fmt.Errorf("no %s parser registered", kind)
	}
	res, err := client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	logger.Debug().Str("kind", kind.String()).Int("status", res.StatusCode).Msg("parsing manifest")
	return parser.Parse(config, res, rawURL, output)
}
