// Package hls lists the streams and segments of HLS playlists.
package hls

import (
	"context"
	"io"
	"net/http"

	"github.com/grafov/m3u8"
	"github.com/maxerenberg/rawdl"
	"golang.org/x/xerrors"
)

// Parser is the rawdl.Parser for HLS playlists.
var Parser rawdl.Parser = rawdl.ParserFunc(Parse)

// Parse lists one stream per variant of a master playlist, or a single
// stream for a media playlist.
func Parse(config *rawdl.Config, res *http.Response, playlistURL string, output rawdl.Output) ([]rawdl.Stream, error) {
	if res.StatusCode > 399 {
		return nil, xerrors.Errorf("can not get playlist %s: server returns %s", playlistURL, res.Status)
	}
	p, t, err := decode(res.Body)
	if err != nil {
		return nil, xerrors.Errorf("decode playlist %s: %w", playlistURL, err)
	}

	if t == m3u8.MEDIA {
		return []rawdl.Stream{{
			Kind:   rawdl.HLS,
			URL:    playlistURL,
			Config: config,
			Output: output.Copy(),
		}}, nil
	}

	master := p.(*m3u8.MasterPlaylist)
	// the decoder attaches all EXT-X-MEDIA tags to the first variant only
	var alternatives []*m3u8.Alternative
	for _, v := range master.Variants {
		if v != nil {
			alternatives = append(alternatives, v.Alternatives...)
		}
	}
	streams := []rawdl.Stream{}
	for _, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		variantURL, err := rawdl.GetFullURL(v.URI, playlistURL)
		if err != nil {
			return nil, xerrors.Errorf("variant %q: %w", v.URI, err)
		}
		audioURL, err := audioRendition(v.Audio, alternatives, playlistURL)
		if err != nil {
			return nil, err
		}
		streams = append(streams, rawdl.Stream{
			Kind:       rawdl.HLS,
			URL:        variantURL,
			Bitrate:    int(v.Bandwidth / 1000),
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
			AudioURL:   audioURL,
			Config:     config,
			Output:     output.Copy(),
		})
	}
	rawdl.Logger().Debug().Int("variants", len(streams)).Msgf("master playlist %s", playlistURL)
	return streams, nil
}

// audioRendition returns the URL of the default (or first) audio rendition
// of an audio group.
func audioRendition(group string, alternatives []*m3u8.Alternative, playlistURL string) (string, error) {
	if group == "" {
		return "", nil
	}
	var chosen *m3u8.Alternative
	for _, alt := range alternatives {
		if alt == nil || alt.Type != "AUDIO" || alt.GroupId != group || alt.URI == "" {
			continue
		}
		if chosen == nil || alt.Default {
			chosen = alt
		}
		if alt.Default {
			break
		}
	}
	if chosen == nil {
		return "", nil
	}
	u, err := rawdl.GetFullURL(chosen.URI, playlistURL)
	if err != nil {
		return "", xerrors.Errorf("audio rendition %q: %w", chosen.URI, err)
	}
	return u, nil
}

// Segments fetches the media playlist at playlistURL and lists its
// segments with absolute URLs. An EXT-X-MAP init segment comes first.
func Segments(ctx context.Context, client *rawdl.Client, playlistURL string) ([]rawdl.Segment, error) {
	res, err := client.Get(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode > 399 {
		return nil, xerrors.Errorf("can not get media playlist %s: server returns %s", playlistURL, res.Status)
	}

	p, t, err := decode(res.Body)
	if err != nil {
		return nil, xerrors.Errorf("decode playlist %s: %w", playlistURL, err)
	}
	if t != m3u8.MEDIA {
		return nil, xerrors.Errorf("%s is a master playlist", playlistURL)
	}
	media := p.(*m3u8.MediaPlaylist)

	var segments []rawdl.Segment
	var key *m3u8.Key
	initMap := media.Map
	for i, seg := range media.Segments {
		if seg == nil {
			// the m3u8 library pads the segment list with nils
			break
		}
		if i == 0 && initMap == nil {
			initMap = seg.Map
		}
		if i == 0 && initMap != nil && initMap.URI != "" {
			u, err := rawdl.GetFullURL(initMap.URI, playlistURL)
			if err != nil {
				return nil, xerrors.Errorf("init segment: %w", err)
			}
			segments = append(segments, rawdl.Segment{URL: u, Init: true})
		}

		u, err := rawdl.GetFullURL(seg.URI, playlistURL)
		if err != nil {
			return nil, xerrors.Errorf("segment %d: %w", seg.SeqId, err)
		}
		segment := rawdl.Segment{URL: u, Duration: seg.Duration, Sequence: seg.SeqId}

		// a key applies until the next EXT-X-KEY
		if seg.Key != nil {
			key = seg.Key
		}
		if key != nil && key.Method != "" && key.Method != "NONE" {
			segment.KeyMethod = key.Method
			segment.KeyIV = key.IV
			if key.URI != "" {
				if segment.KeyURL, err = rawdl.GetFullURL(key.URI, playlistURL); err != nil {
					return nil, xerrors.Errorf("key of segment %d: %w", seg.SeqId, err)
				}
			}
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

func decode(r io.Reader) (m3u8.Playlist, m3u8.ListType, error) {
	return m3u8.DecodeFrom(r, false)
}
