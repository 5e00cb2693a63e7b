package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/maxerenberg/rawdl"
	"github.com/maxerenberg/rawdl/dash"
	"github.com/maxerenberg/rawdl/hls"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v1"
)

var rootCmd = &cobra.Command{
	Use:               "rawdl",
	Short:             "Inspect HLS and DASH streams from a manifest or page URL",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var streamsCmd = &cobra.Command{
	Use:   "streams <URL>...",
	Short: "List the streams of manifest URLs, or of the manifests found on pages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  streamsF,
}

var finalURLCmd = &cobra.Command{
	Use:   "final-url <URL>",
	Short: "Follow redirects and print the final URL",
	Args:  cobra.ExactArgs(1),
	RunE:  finalURLF,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <URL>",
	Short: "Write the body of a URL to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchF,
}

var downloadCmd = &cobra.Command{
	Use:   "download <URL>",
	Short: "Write the decrypted segments of the best HLS stream at URL to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  downloadF,
}

var raw = &rawdl.Raw{
	Parsers: map[rawdl.Kind]rawdl.Parser{
		rawdl.HLS:  hls.Parser,
		rawdl.DASH: dash.Parser,
	},
}

func main() {
	addClientFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Print debug messages to stderr")
	streamsCmd.Flags().IntP("workers", "w", 2, "Number of URLs to resolve concurrently")
	streamsCmd.Flags().Bool("segments", false, "Also count the segments of every stream")
	fetchCmd.Flags().BoolP("quiet", "q", false, "No progress bar")
	downloadCmd.Flags().IntP("workers", "w", 0, "Number of segments to fetch concurrently (0 for one per CPU)")
	downloadCmd.Flags().BoolP("quiet", "q", false, "No progress bar")
	rootCmd.AddCommand(streamsCmd, finalURLCmd, fetchCmd, downloadCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(command *cobra.Command, args []string) error {
	debug, err := command.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	if debug {
		rawdl.EnableDebugMessages()
	}
	return nil
}

func streamsF(command *cobra.Command, args []string) error {
	flags := command.Flags()
	config, err := configFromFlags(flags)
	if err != nil {
		return err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return err
	}
	withSegments, err := flags.GetBool("segments")
	if err != nil {
		return err
	}

	// one client per URL so sessions do not share headers or cookies
	results := make([][]string, len(args))
	g, ctx := errgroup.WithContext(command.Context())
	g.SetLimit(workers)
	for i, u := range args {
		g.Go(func() error {
			lines, err := resolveStreams(ctx, config, u, withSegments)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			results[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := command.OutOrStdout()
	for i, lines := range results {
		fmt.Fprintf(out, "%s\n", args[i])
		for _, line := range lines {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}

func resolveStreams(ctx context.Context, config *rawdl.Config, u string, withSegments bool) ([]string, error) {
	client, err := config.NewClient()
	if err != nil {
		return nil, err
	}

	manifests := []string{u}
	if !rawdl.IsRawURL(u) {
		if manifests, err = rawdl.Discover(ctx, client, u); err != nil {
			return nil, err
		}
		if len(manifests) == 0 {
			return nil, fmt.Errorf("no HLS or DASH manifest found")
		}
	}

	var lines []string
	for _, m := range manifests {
		output := rawdl.Output{}
		for s, err := range raw.Handle(ctx, config, client, m, output) {
			if err != nil {
				return nil, err
			}
			line := fmt.Sprintf("[%s] %s", output["title"], s)
			if withSegments {
				segments, err := listSegments(ctx, client, s)
				if err != nil {
					return nil, err
				}
				line += fmt.Sprintf(" (%d segments)", len(segments))
			}
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func listSegments(ctx context.Context, client *rawdl.Client, s rawdl.Stream) ([]rawdl.Segment, error) {
	switch s.Kind {
	case rawdl.HLS:
		return hls.Segments(ctx, client, s.URL)
	case rawdl.DASH:
		return dash.Segments(ctx, client, s.URL, s.ID)
	}
	return nil, fmt.Errorf("unknown stream kind %s", s.Kind)
}

func finalURLF(command *cobra.Command, args []string) error {
	config, err := configFromFlags(command.Flags())
	if err != nil {
		return err
	}
	client, err := config.NewClient()
	if err != nil {
		return err
	}
	final, err := client.FinalURL(command.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(command.OutOrStdout(), final)
	return nil
}

func fetchF(command *cobra.Command, args []string) error {
	flags := command.Flags()
	config, err := configFromFlags(flags)
	if err != nil {
		return err
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return err
	}
	client, err := config.NewClient()
	if err != nil {
		return err
	}

	res, err := client.Get(command.Context(), args[0])
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode > 399 {
		return fmt.Errorf("%s: server returned %s", args[0], res.Status)
	}

	return copyWithBar(command.OutOrStdout(), res.Body, res.ContentLength, quiet)
}

func downloadF(command *cobra.Command, args []string) error {
	flags := command.Flags()
	config, err := configFromFlags(flags)
	if err != nil {
		return err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return err
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return err
	}
	client, err := config.NewClient()
	if err != nil {
		return err
	}

	ctx := command.Context()
	best, err := bestHLSStream(ctx, config, client, args[0])
	if err != nil {
		return err
	}
	rawdl.Logger().Debug().Int("bitrate", best.Bitrate).Msgf("downloading %s", best.URL)
	r, err := hls.Download(ctx, client, best.URL, workers)
	if err != nil {
		return err
	}
	defer r.Close()
	return copyWithBar(command.OutOrStdout(), r, 0, quiet)
}

// bestHLSStream returns the highest-bitrate HLS stream at u.
func bestHLSStream(ctx context.Context, config *rawdl.Config, client *rawdl.Client, u string) (rawdl.Stream, error) {
	var best rawdl.Stream
	found := false
	for s, err := range raw.Handle(ctx, config, client, u, rawdl.Output{}) {
		if err != nil {
			return best, err
		}
		if s.Kind != rawdl.HLS {
			continue
		}
		if !found || s.Bitrate > best.Bitrate {
			best, found = s, true
		}
	}
	if !found {
		return best, fmt.Errorf("%s: no HLS stream found", u)
	}
	return best, nil
}

func copyWithBar(w io.Writer, r io.Reader, total int64, quiet bool) error {
	if !quiet {
		if total < 0 {
			total = 0
		}
		bar := pb.New64(total).SetUnits(pb.U_BYTES).SetMaxWidth(100).Prefix("Fetching...")
		bar.Output = os.Stderr
		bar.ShowElapsedTime = true
		bar.Start()
		defer bar.Finish()
		r = bar.NewProxyReader(r)
	}
	_, err := io.Copy(w, r)
	return err
}
