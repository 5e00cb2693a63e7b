package rawdl

import (
	"fmt"
	"net/http"
)

// Kind tags the manifest format a stream was found in.
type Kind int

const (
	HLS Kind = iota
	DASH
)

func (k Kind) String() string {
	switch k {
	case HLS:
		return "HLS"
	case DASH:
		return "DASH"
	}
	return "<Unknown>"
}

// Output is the metadata shared with whatever names the downloaded files.
type Output map[string]string

func (o Output) Copy() Output {
	c := make(Output, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Stream describes one downloadable rendition found in a manifest.
type Stream struct {
	Kind Kind
	// URL is the media playlist (HLS) or the manifest itself (DASH).
	URL string
	// ID is the DASH representation id.
	ID string
	// Bitrate in kbit/s, 0 when the manifest does not say.
	Bitrate    int
	Resolution string
	Codecs     string
	MimeType   string
	// AudioURL is the separate audio rendition of an HLS variant, if any.
	AudioURL string
	Config   *Config
	Output   Output
}

func (s Stream) String() string {
	str := fmt.Sprintf("%s %dkbps", s.Kind, s.Bitrate)
	if s.Resolution != "" {
		str += " " + s.Resolution
	}
	if s.Codecs != "" {
		str += " " + s.Codecs
	}
	return str + " " + s.URL
}

// Segment is one media chunk of a stream.
type Segment struct {
	URL      string
	Duration float64
	Sequence uint64
	// Init marks an initialisation segment (EXT-X-MAP or DASH Initialization).
	Init      bool
	// KeyMethod, KeyURL and KeyIV describe the HLS key the segment is
	// encrypted with. KeyIV is the hex IV from EXT-X-KEY, empty when the
	// IV is derived from Sequence.
	KeyMethod string
	KeyURL    string
	KeyIV     string
}

// Parser reads a manifest response and lists the streams it offers.
// manifestURL is the URL the response was requested from.
type Parser interface {
	Parse(config *Config, res *http.Response, manifestURL string, output Output) ([]Stream, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(config *Config, res *http.Response, manifestURL string, output Output) ([]Stream, error)

func (f ParserFunc) Parse(config *Config, res *http.Response, manifestURL string, output Output) ([]Stream, error) {
	return f(config, res, manifestURL, output)
}
