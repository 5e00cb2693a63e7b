package main

import (
	"context"
	"fmt"

	"github.com/maxerenberg/rawdl"
	"github.com/maxerenberg/rawdl/dash"
	"github.com/maxerenberg/rawdl/hls"
)

func main() {
	url := "https://bitdash-a.akamaihd.net/content/sintel/hls/playlist.m3u8"
	config := &rawdl.Config{}
	client, err := config.NewClient()
	if err != nil {
		panic(err)
	}
	raw := &rawdl.Raw{Parsers: map[rawdl.Kind]rawdl.Parser{
		rawdl.HLS:  hls.Parser,
		rawdl.DASH: dash.Parser,
	}}
	output := rawdl.Output{}
	for stream, err := range raw.Handle(context.Background(), config, client, url, output) {
		if err != nil {
			panic(err)
		}
		fmt.Println(output["title"], stream)
	}
}
