package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"dv-converter/internal/domain"
)

// Environment overrides. They win over the settings file for one run only
// and are never written back.
const (
	EnvFFmpeg      = "DVCONVERT_FFMPEG"
	EnvFFprobe     = "DVCONVERT_FFPROBE"
	EnvHWDevice    = "DVCONVERT_HW_DEVICE"
	EnvLogLevel    = "DVCONVERT_LOG_LEVEL"
	EnvMetricsAddr = "DVCONVERT_METRICS_ADDR"
)

// LoadDotEnv reads optional .env files into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays DVCONVERT_* variables on s and normalizes the result.
func ApplyEnv(s domain.Settings) domain.Settings {
	return applyEnv(s, os.LookupEnv)
}

func applyEnv(s domain.Settings, lookup func(string) (string, bool)) domain.Settings {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvFFmpeg, &s.FFmpegPath},
		{EnvFFprobe, &s.FFprobePath},
		{EnvHWDevice, &s.HWDevice},
		{EnvLogLevel, &s.LogLevel},
		{EnvMetricsAddr, &s.MetricsAddr},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
	return Normalize(s)
}
