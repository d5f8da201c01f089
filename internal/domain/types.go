package domain

import (
	"fmt"
	"strings"
	"time"
)

// ColorMode selects the tone-mapping and metadata profile for the video stream.
type ColorMode string

const (
	ColorModeHDR10 ColorMode = "HDR10"
	ColorModeSDR   ColorMode = "SDR"
	ColorModeHLG   ColorMode = "HLG"
	ColorModeNone  ColorMode = "NONE"
)

// ColorModes lists every supported color mode in UI order.
var ColorModes = []ColorMode{ColorModeHDR10, ColorModeSDR, ColorModeHLG, ColorModeNone}

// Valid reports whether m is one of the four supported modes.
func (m ColorMode) Valid() bool {
	switch m {
	case ColorModeHDR10, ColorModeSDR, ColorModeHLG, ColorModeNone:
		return true
	default:
		return false
	}
}

// ParseColorMode maps user input to a ColorMode, ignoring case.
func ParseColorMode(raw string) (ColorMode, error) {
	mode := ColorMode(strings.ToUpper(strings.TrimSpace(raw)))
	if !mode.Valid() {
		return "", fmt.Errorf("unknown color mode %q", raw)
	}
	return mode, nil
}

// Codec selects the video encoder family.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecH265 Codec = "H265"
)

// Valid reports whether c is a supported codec family.
func (c Codec) Valid() bool {
	return c == CodecH264 || c == CodecH265
}

// ParseCodec maps user input such as "hevc" or "libx264" to a Codec.
func ParseCodec(raw string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "h264", "avc", "x264", "libx264":
		return CodecH264, nil
	case "h265", "hevc", "x265", "libx265":
		return CodecH265, nil
	default:
		return "", fmt.Errorf("unknown codec %q", raw)
	}
}

// UnknownDuration marks a total media duration the prober could not determine.
const UnknownDuration time.Duration = -1

// JobRequest is the caller's intent for one conversion. OutputDir empty means
// the input file's directory.
type JobRequest struct {
	InputPath   string    `json:"inputPath"`
	OutputDir   string    `json:"outputDir,omitempty"`
	ColorMode   ColorMode `json:"colorMode"`
	Codec       Codec     `json:"codec"`
	BitrateKbps int       `json:"bitrateKbps"`
}

// EncodingPlan holds the resolved filter graph and encoder settings for a job.
type EncodingPlan struct {
	FilterGraph   string `json:"filterGraph"`
	EncoderName   string `json:"encoderName"`
	EncoderParams string `json:"encoderParams,omitempty"`
	BitrateKbps   int    `json:"bitrateKbps"`
}

// JobState tracks the lifecycle of a single conversion job.
type JobState string

const (
	JobStateIdle       JobState = "idle"
	JobStateProbing    JobState = "probing"
	JobStateRunning    JobState = "running"
	JobStateCancelling JobState = "cancelling"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// Active reports whether the state holds (or is about to hold) a subprocess.
func (s JobState) Active() bool {
	switch s {
	case JobStateProbing, JobStateRunning, JobStateCancelling:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions will happen.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Progress is one normalized progress sample.
type Progress struct {
	Percent float64       `json:"percent"`
	ETA     time.Duration `json:"eta"`
}

// ExitInfo describes how the transcoder process ended.
type ExitInfo struct {
	ExitCode   int      `json:"exitCode"`
	Error      string   `json:"error,omitempty"`
	StderrTail []string `json:"stderrTail,omitempty"`
}

// JobSnapshot is a read-only copy of a job's current fields.
type JobSnapshot struct {
	ID            string        `json:"id"`
	State         JobState      `json:"state"`
	Request       JobRequest    `json:"request"`
	Plan          *EncodingPlan `json:"plan,omitempty"`
	OutputPath    string        `json:"outputPath,omitempty"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastProgress  *Progress     `json:"lastProgress,omitempty"`
	Exit          *ExitInfo     `json:"exit,omitempty"`
	Args          []string      `json:"args,omitempty"`
}

// DurationKnown reports whether the prober produced a usable total duration.
func (s JobSnapshot) DurationKnown() bool {
	return s.TotalDuration > 0
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath  string    `json:"ffmpegPath"`
	FFprobePath string    `json:"ffprobePath"`
	HWDevice    string    `json:"hwDevice"`
	OutputDir   string    `json:"outputDir"`
	ColorMode   ColorMode `json:"colorMode"`
	Codec       Codec     `json:"codec"`
	BitrateKbps int       `json:"bitrateKbps"`
	LogLevel    string    `json:"logLevel"`
	MetricsAddr string    `json:"metricsAddr,omitempty"`
}
