// Package encoding maps a job's color mode, codec and bitrate onto the
// concrete ffmpeg filter graph and encoder settings.
package encoding

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"dv-converter/internal/domain"
)

// ErrInvalidParameter is returned for color modes or codecs outside the
// supported set.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	// MinBitrateKbps is the lowest bitrate passed through to the encoder.
	MinBitrateKbps = 1000
	// DefaultBitrateKbps replaces any bitrate below MinBitrateKbps.
	DefaultBitrateKbps = 15000
)

const (
	EncoderX264 = "libx264"
	EncoderX265 = "libx265"
)

// Filter graphs run through libplacebo on the hardware device, so every chain
// is wrapped in hwupload/hwdownload.
var filterGraphs = map[domain.ColorMode]string{
	domain.ColorModeHDR10: "hwupload,libplacebo=peak_detect=false:colorspace=9:color_primaries=9:color_trc=16:range=tv:format=yuv420p10le,hwdownload,format=yuv420p10le",
	domain.ColorModeSDR:   "hwupload,libplacebo=peak_detect=false:colorspace=bt709:color_primaries=bt709:color_trc=bt709:range=tv:format=yuv420p10le,hwdownload,format=yuv420p10le",
	domain.ColorModeHLG:   "hwupload,libplacebo=peak_detect=false:colorspace=9:color_primaries=9:color_trc=14:range=tv:format=yuv420p10le,hwdownload,format=yuv420p10le",
	domain.ColorModeNone:  "hwupload,libplacebo=colorspace=bt709:color_primaries=bt709:color_trc=bt709:range=tv:format=yuv420p,hwdownload,format=yuv420p",
}

// x265Params are only defined for libx265. libx264 runs untuned.
var x265Params = map[domain.ColorMode]string{
	domain.ColorModeHDR10: "repeat-headers=1:sar=1:hrd=1:aud=1:open-gop=0:hdr10=1:sao=0:rect=0:cutree=0:deblock=-3-3:strong-intra-smoothing=0:chromaloc=2:aq-mode=1:vbv-maxrate=160000:vbv-bufsize=160000:max-luma=1023:max-cll=0,0:master-display=G(8500,39850)B(6550,23000)R(35400,15650)WP(15635,16450)L(10000000,1):preset=slow",
	domain.ColorModeSDR:   "deblock=-3-3:vbv-bufsize=62500:vbv-maxrate=50000:fast-pskip=0:dct-decimate=0:level=5.1:ref=5:psy-rd=1.05,0.15:subme=7:me=umh:me_range=48:preset=slow",
	domain.ColorModeHLG:   "open-gop=0:atc-sei=18:pic_struct=0:preset=slow",
	domain.ColorModeNone:  "preset=medium",
}

// Build resolves the encoding plan for one job. It is deterministic: the same
// inputs always produce the same plan.
func Build(mode domain.ColorMode, codec domain.Codec, bitrateKbps int) (domain.EncodingPlan, error) {
	graph, ok := filterGraphs[mode]
	if !ok {
		return domain.EncodingPlan{}, fmt.Errorf("%w: color mode %q", ErrInvalidParameter, mode)
	}

	encoder, err := EncoderName(codec)
	if err != nil {
		return domain.EncodingPlan{}, err
	}

	plan := domain.EncodingPlan{
		FilterGraph: graph,
		EncoderName: encoder,
		BitrateKbps: ClampBitrate(bitrateKbps),
	}
	if encoder == EncoderX265 {
		plan.EncoderParams = x265Params[mode]
	}
	return plan, nil
}

// EncoderName returns the ffmpeg encoder identifier for a codec family.
func EncoderName(codec domain.Codec) (string, error) {
	switch codec {
	case domain.CodecH264:
		return EncoderX264, nil
	case domain.CodecH265:
		return EncoderX265, nil
	default:
		return "", fmt.Errorf("%w: codec %q", ErrInvalidParameter, codec)
	}
}

// ParamsFlag returns the ffmpeg option that carries tuning for encoder, or ""
// when no tuning option exists.
func ParamsFlag(encoder string) string {
	if encoder == EncoderX265 {
		return "-x265-params"
	}
	return ""
}

// ClampBitrate replaces bitrates below MinBitrateKbps with DefaultBitrateKbps.
func ClampBitrate(kbps int) int {
	if kbps < MinBitrateKbps {
		return DefaultBitrateKbps
	}
	return kbps
}

// OutputFileName derives {base}_{MODE}_{encoder}_{N}k{ext} from the input path.
func OutputFileName(inputPath string, mode domain.ColorMode, encoder string, bitrateKbps int) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%s_%s_%dk%s", name, mode, encoder, bitrateKbps, ext)
}
