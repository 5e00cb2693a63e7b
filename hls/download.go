package hls

import (
	"context"
	"io"
	"net/http"
	"runtime"

	"github.com/maxerenberg/rawdl"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Download fetches every segment of the media playlist at playlistURL,
// decrypts AES-128 segments and returns their bytes in playlist order.
//
// Segments are fetched by workers goroutines (NumCPU when workers <= 0).
// Worker i fetches segments i, i+workers, i+2*workers and so on, and waits
// for its turn before writing, so the output stays in order while later
// segments download. A failed segment ends the stream with its error.
// Closing the reader stops the workers.
func Download(ctx context.Context, client *rawdl.Client, playlistURL string, workers int) (io.ReadCloser, error) {
	segments, err := Segments(ctx, client, playlistURL)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		switch seg.KeyMethod {
		case "", "NONE", "AES-128":
		default:
			return nil, xerrors.Errorf("%s encryption is not supported", seg.KeyMethod)
		}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(segments) {
		workers = max(len(segments), 1)
	}

	reader, writer := io.Pipe()
	d := &downloader{
		client:   client,
		keys:     newKeyCache(client),
		segments: segments,
		workers:  workers,
		writer:   writer,
	}
	go func() {
		writer.CloseWithError(d.run(ctx))
	}()
	return reader, nil
}

type downloader struct {
	client   *rawdl.Client
	keys     *keyCache
	segments []rawdl.Segment
	workers  int
	writer   *io.PipeWriter
}

func (d *downloader) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	// turns[i] holds a token while worker i may write
	turns := make([]chan struct{}, d.workers)
	for i := range turns {
		turns[i] = make(chan struct{}, 1)
	}
	turns[0] <- struct{}{}

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for idx := i; idx < len(d.segments); idx += d.workers {
				data, err := d.fetch(ctx, d.segments[idx])
				if err != nil {
					return err
				}
				select {
				case <-turns[i]:
				case <-ctx.Done():
					return ctx.Err()
				}
				if _, err := d.writer.Write(data); err != nil {
					return err
				}
				turns[(i+1)%d.workers] <- struct{}{}
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *downloader) fetch(ctx context.Context, seg rawdl.Segment) ([]byte, error) {
	data, status, err := d.client.Fetch(ctx, seg.URL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, xerrors.Errorf("can not get segment %s: server returns %d", seg.URL, status)
	}
	rawdl.Logger().Debug().Uint64("sequence", seg.Sequence).Int("bytes", len(data)).Msgf("segment %s", seg.URL)
	return d.keys.decrypt(ctx, seg, data)
}
