package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"dv-converter/internal/domain"
)

// options is the parsed command line.
type options struct {
	request     domain.JobRequest
	ffmpeg      string
	ffprobe     string
	hwDevice    string
	logLevel    string
	metricsAddr string
}

// parseFlags reads args on top of the saved settings. The input file may be
// given with -i or as the single positional argument.
func parseFlags(args []string, defaults domain.Settings, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("dvconvert", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts    options
		input   string
		color   string
		codec   string
		bitrate int
	)
	fs.StringVar(&input, "i", "", "input video (.mp4, .mkv, .ts)")
	fs.StringVar(&opts.request.OutputDir, "o", defaults.OutputDir, "output directory (default: next to the input)")
	fs.StringVar(&color, "color", string(defaults.ColorMode), "color mode: HDR10, SDR, HLG or NONE")
	fs.StringVar(&codec, "codec", string(defaults.Codec), "video codec: H264 or H265")
	fs.IntVar(&bitrate, "bitrate", defaults.BitrateKbps, "video bitrate in kbps (below 1000 uses 15000)")
	fs.StringVar(&opts.ffmpeg, "ffmpeg", defaults.FFmpegPath, "ffmpeg binary")
	fs.StringVar(&opts.ffprobe, "ffprobe", defaults.FFprobePath, "ffprobe binary")
	fs.StringVar(&opts.hwDevice, "hw-device", defaults.HWDevice, "hardware device for libplacebo")
	fs.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", defaults.MetricsAddr, "serve /metrics and /healthz on this address")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: dvconvert [flags] <input>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch rest := fs.Args(); {
	case input != "" && len(rest) > 0:
		return options{}, errors.New("input given both with -i and as an argument")
	case input == "" && len(rest) == 1:
		input = rest[0]
	case len(rest) > 1:
		return options{}, fmt.Errorf("expected one input file, got %d", len(rest))
	}
	if strings.TrimSpace(input) == "" {
		fs.Usage()
		return options{}, errors.New("input file is required")
	}

	mode, err := domain.ParseColorMode(color)
	if err != nil {
		return options{}, err
	}
	vc, err := domain.ParseCodec(codec)
	if err != nil {
		return options{}, err
	}

	opts.request.InputPath = input
	opts.request.ColorMode = mode
	opts.request.Codec = vc
	opts.request.BitrateKbps = bitrate
	return opts, nil
}
