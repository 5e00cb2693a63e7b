// Package dash lists the representations and segments of DASH manifests.
package dash

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"

	"41.neocities.org/luna/dash"
	"github.com/maxerenberg/rawdl"
	"golang.org/x/xerrors"
)

// MaxSegments bounds the segments listed for one representation, so a
// manifest cannot make Segments allocate without limit.
const MaxSegments = 200000

// Parser is the rawdl.Parser for DASH manifests.
var Parser rawdl.Parser = rawdl.ParserFunc(Parse)

// Parse lists one stream per representation, lowest bandwidth first.
// Stream.URL is the manifest URL and Stream.ID the representation id,
// which Segments takes.
func Parse(config *rawdl.Config, res *http.Response, manifestURL string, output rawdl.Output) ([]rawdl.Stream, error) {
	if res.StatusCode > 399 {
		return nil, xerrors.Errorf("can not get manifest %s: server returns %s", manifestURL, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, xerrors.Errorf("read manifest %s: %w", manifestURL, err)
	}
	mpd, err := decode(body, manifestURL)
	if err != nil {
		return nil, err
	}

	groups := mpd.GetRepresentations()
	reps := make([]*dash.Representation, 0, len(groups))
	for _, group := range groups {
		if len(group) > 0 {
			reps = append(reps, group[0])
		}
	}
	dash.SortByBandwidth(reps)

	streams := []rawdl.Stream{}
	for _, rep := range reps {
		streams = append(streams, rawdl.Stream{
			Kind:     rawdl.DASH,
			URL:      manifestURL,
			ID:       rep.Id,
			Bitrate:  rep.Bandwidth / 1000,
			MimeType: rep.GetMimeType(),
			Config:   config,
			Output:   output.Copy(),
		})
	}
	rawdl.Logger().Debug().Int("representations", len(streams)).Msgf("manifest %s", manifestURL)
	return streams, nil
}

// Segments fetches the manifest and lists the segments of the
// representation with the given id, initialisation segment first. A
// representation repeated over several periods yields the segments of
// every period in order.
func Segments(ctx context.Context, client *rawdl.Client, manifestURL, representationID string) ([]rawdl.Segment, error) {
	body, status, err := client.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	if status > 399 {
		return nil, xerrors.Errorf("can not get manifest %s: server returns %d", manifestURL, status)
	}
	mpd, err := decode(body, manifestURL)
	if err != nil {
		return nil, err
	}

	group, ok := mpd.GetRepresentations()[representationID]
	if !ok || len(group) == 0 {
		return nil, xerrors.Errorf("representation %q not found in %s", representationID, manifestURL)
	}

	var segments []rawdl.Segment
	var lastInit string
	var number uint64
	for _, rep := range group {
		init, media, err := representationSegments(rep)
		if err != nil {
			return nil, xerrors.Errorf("representation %s: %w", rep.Id, err)
		}
		if init != "" && init != lastInit {
			segments = append(segments, rawdl.Segment{URL: init, Init: true})
			lastInit = init
		}
		for _, seg := range media {
			number++
			seg.Sequence = number
			segments = append(segments, seg)
		}
		if len(segments) > MaxSegments {
			return nil, xerrors.Errorf("representation %s has more than %d segments", rep.Id, MaxSegments)
		}
	}
	return segments, nil
}

func decode(body []byte, manifestURL string) (*dash.Mpd, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, xerrors.Errorf("manifest url %s: %w", manifestURL, err)
	}
	mpd, err := dash.Parse(body)
	if err != nil {
		return nil, xerrors.Errorf("decode manifest %s: %w", manifestURL, err)
	}
	mpd.MpdUrl = base
	return mpd, nil
}

// representationSegments returns the init segment URL, if any, and the
// media segments of one period of a representation.
func representationSegments(rep *dash.Representation) (string, []rawdl.Segment, error) {
	if tmpl := rep.GetSegmentTemplate(); tmpl != nil {
		return templateSegments(rep, tmpl)
	}
	if list := rep.SegmentList; list != nil {
		return listSegments(list)
	}

	// SegmentBase or a bare BaseURL: one file for the whole period
	base, err := rep.ResolveBaseUrl()
	if err != nil {
		return "", nil, err
	}
	duration, _ := periodSeconds(rep)
	return "", []rawdl.Segment{{URL: base.String(), Duration: duration}}, nil
}

func templateSegments(rep *dash.Representation, tmpl *dash.SegmentTemplate) (string, []rawdl.Segment, error) {
	timescale := float64(tmpl.GetTimescale())
	if timescale <= 0 {
		timescale = 1
	}
	if err := checkTemplateSize(rep, tmpl, timescale); err != nil {
		return "", nil, err
	}

	var init string
	if tmpl.Initialization != "" {
		u, err := tmpl.ResolveInitialization(rep)
		if err != nil {
			return "", nil, xerrors.Errorf("initialization: %w", err)
		}
		init = u.String()
	}

	urls, err := tmpl.GetSegmentURLs(rep)
	if err != nil {
		return "", nil, err
	}
	if len(urls) > MaxSegments {
		return "", nil, xerrors.Errorf("template lists %d segments, more than %d", len(urls), MaxSegments)
	}

	segments := make([]rawdl.Segment, len(urls))
	for i, u := range urls {
		segments[i].URL = u.String()
	}
	if tl := tmpl.SegmentTimeline; tl != nil {
		// entries with r < 0 repeat until the following entries take over
		idx := 0
		for n, s := range tl.S {
			count := 1 + s.R
			if s.R < 0 {
				later := 0
				for _, next := range tl.S[n+1:] {
					later += 1 + max(next.R, 0)
				}
				count = len(segments) - idx - later
			}
			d := float64(s.D) / timescale
			for i := 0; i < count && idx < len(segments); i++ {
				segments[idx].Duration = d
				idx++
			}
		}
	} else {
		d := float64(tmpl.Duration) / timescale
		for i := range segments {
			segments[i].Duration = d
		}
	}
	return init, segments, nil
}

// checkTemplateSize estimates the segment count of a template from the
// manifest values before any URL is generated.
func checkTemplateSize(rep *dash.Representation, tmpl *dash.SegmentTemplate, timescale float64) error {
	period, hasPeriod := periodSeconds(rep)
	estimate := func(d float64) float64 {
		if !hasPeriod || d <= 0 {
			return 0
		}
		return math.Ceil(period * timescale / d)
	}

	var count float64
	if tl := tmpl.SegmentTimeline; tl != nil {
		for _, s := range tl.S {
			if s.R < 0 {
				count += estimate(float64(s.D))
			} else {
				count += float64(1 + s.R)
			}
		}
	} else {
		count = estimate(float64(tmpl.Duration))
	}
	if count > MaxSegments {
		return xerrors.Errorf("template describes about %.0f segments, more than %d", count, MaxSegments)
	}
	return nil
}

func listSegments(list *dash.SegmentList) (string, []rawdl.Segment, error) {
	if len(list.SegmentURLs) > MaxSegments {
		return "", nil, xerrors.Errorf("segment list has %d entries, more than %d", len(list.SegmentURLs), MaxSegments)
	}
	var init string
	if list.Initialization != nil {
		u, err := list.Initialization.ResolveSourceUrl()
		if err != nil {
			return "", nil, xerrors.Errorf("initialization: %w", err)
		}
		if u != nil {
			init = u.String()
		}
	}

	timescale := float64(list.GetTimescale())
	if timescale <= 0 {
		timescale = 1
	}
	d := float64(list.Duration) / timescale
	segments := make([]rawdl.Segment, 0, len(list.SegmentURLs))
	for i, seg := range list.SegmentURLs {
		u, err := seg.ResolveMedia()
		if err != nil {
			return "", nil, xerrors.Errorf("segment %d: %w", i, err)
		}
		segments = append(segments, rawdl.Segment{URL: u.String(), Duration: d})
	}
	return init, segments, nil
}

// periodSeconds is the length of the period rep belongs to.
func periodSeconds(rep *dash.Representation) (float64, bool) {
	if rep.Parent == nil || rep.Parent.Parent == nil {
		return 0, false
	}
	d, err := rep.Parent.Parent.GetDuration()
	if err != nil {
		return 0, false
	}
	return d.Seconds(), true
}
