package encoding

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"dv-converter/internal/domain"
)

// TestBuildIsDeterministic checks every mode/codec pair yields the same plan twice.
func TestBuildIsDeterministic(t *testing.T) {
	for _, mode := range domain.ColorModes {
		for _, codec := range []domain.Codec{domain.CodecH264, domain.CodecH265} {
			first, err := Build(mode, codec, 8000)
			if err != nil {
				t.Fatalf("Build(%s, %s) error = %v", mode, codec, err)
			}
			second, err := Build(mode, codec, 8000)
			if err != nil {
				t.Fatalf("Build(%s, %s) second error = %v", mode, codec, err)
			}
			if first != second {
				t.Fatalf("Build(%s, %s) not deterministic: %+v vs %+v", mode, codec, first, second)
			}
			if first.FilterGraph == "" {
				t.Fatalf("Build(%s, %s) empty filter graph", mode, codec)
			}
		}
	}
}

// TestBuildEncoderTuning checks x265 params only appear for libx265.
func TestBuildEncoderTuning(t *testing.T) {
	tests := []struct {
		mode       domain.ColorMode
		wantSubstr string
	}{
		{domain.ColorModeHDR10, "hdr10=1:sao=0:rect=0"},
		{domain.ColorModeSDR, "me=umh:me_range=48:preset=slow"},
		{domain.ColorModeHLG, "atc-sei=18"},
		{domain.ColorModeNone, "preset=medium"},
	}

	for _, tt := range tests {
		hevc, err := Build(tt.mode, domain.CodecH265, 15000)
		if err != nil {
			t.Fatalf("Build(%s, H265) error = %v", tt.mode, err)
		}
		if hevc.EncoderName != EncoderX265 {
			t.Fatalf("encoder = %q, want %q", hevc.EncoderName, EncoderX265)
		}
		if !strings.Contains(hevc.EncoderParams, tt.wantSubstr) {
			t.Fatalf("%s params = %q, want substring %q", tt.mode, hevc.EncoderParams, tt.wantSubstr)
		}

		avc, err := Build(tt.mode, domain.CodecH264, 15000)
		if err != nil {
			t.Fatalf("Build(%s, H264) error = %v", tt.mode, err)
		}
		if avc.EncoderParams != "" {
			t.Fatalf("%s H264 params = %q, want empty", tt.mode, avc.EncoderParams)
		}
		if avc.FilterGraph != hevc.FilterGraph {
			t.Fatalf("%s filter graph changed with codec", tt.mode)
		}
	}
}

// TestBuildFilterGraphs spot-checks the tone-mapping targets per mode.
func TestBuildFilterGraphs(t *testing.T) {
	tests := map[domain.ColorMode][]string{
		domain.ColorModeHDR10: {"color_trc=16", "format=yuv420p10le", "hwupload", "hwdownload"},
		domain.ColorModeSDR:   {"color_trc=bt709", "format=yuv420p10le"},
		domain.ColorModeHLG:   {"color_trc=14", "colorspace=9"},
		domain.ColorModeNone:  {"format=yuv420p,hwdownload,format=yuv420p"},
	}
	for mode, parts := range tests {
		plan, err := Build(mode, domain.CodecH265, 15000)
		if err != nil {
			t.Fatalf("Build(%s) error = %v", mode, err)
		}
		for _, part := range parts {
			if !strings.Contains(plan.FilterGraph, part) {
				t.Fatalf("%s graph %q missing %q", mode, plan.FilterGraph, part)
			}
		}
	}

	none, _ := Build(domain.ColorModeNone, domain.CodecH265, 15000)
	if strings.Contains(none.FilterGraph, "peak_detect") {
		t.Fatalf("NONE graph should not set peak_detect: %q", none.FilterGraph)
	}
}

// TestBuildRejectsUnknownEnums checks invalid inputs fail loudly.
func TestBuildRejectsUnknownEnums(t *testing.T) {
	if _, err := Build("DOLBY", domain.CodecH265, 8000); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unknown mode error = %v, want %v", err, ErrInvalidParameter)
	}
	if _, err := Build(domain.ColorModeSDR, "AV1", 8000); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unknown codec error = %v, want %v", err, ErrInvalidParameter)
	}
}

// TestClampBitrate checks the threshold and default fallback.
func TestClampBitrate(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, DefaultBitrateKbps},
		{0, DefaultBitrateKbps},
		{999, DefaultBitrateKbps},
		{1000, 1000},
		{8000, 8000},
		{60000, 60000},
	}
	for _, tt := range tests {
		if got := ClampBitrate(tt.in); got != tt.want {
			t.Fatalf("ClampBitrate(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	plan, err := Build(domain.ColorModeSDR, domain.CodecH264, 500)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if plan.BitrateKbps != DefaultBitrateKbps {
		t.Fatalf("plan bitrate = %d, want %d", plan.BitrateKbps, DefaultBitrateKbps)
	}
}

// TestOutputFileName checks the deterministic naming scheme.
func TestOutputFileName(t *testing.T) {
	got := OutputFileName(filepath.Join("videos", "movie.mkv"), domain.ColorModeSDR, EncoderX264, 8000)
	if got != "movie_SDR_libx264_8000k.mkv" {
		t.Fatalf("OutputFileName = %q", got)
	}

	got = OutputFileName("clip.final.ts", domain.ColorModeNone, EncoderX265, 15000)
	if got != "clip.final_NONE_libx265_15000k.ts" {
		t.Fatalf("OutputFileName = %q", got)
	}
}

// TestParamsFlag checks the tuning option name per encoder.
func TestParamsFlag(t *testing.T) {
	if got := ParamsFlag(EncoderX265); got != "-x265-params" {
		t.Fatalf("ParamsFlag(x265) = %q", got)
	}
	if got := ParamsFlag(EncoderX264); got != "" {
		t.Fatalf("ParamsFlag(x264) = %q, want empty", got)
	}
}
