package config

import (
	"os"
	"path/filepath"
	"strings"

	"dv-converter/internal/domain"
	"dv-converter/internal/encoding"
)

// AppDirName is the per-user directory holding settings and logs.
const AppDirName = ".dv-converter"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		HWDevice:    "vulkan",
		ColorMode:   domain.ColorModeHDR10,
		Codec:       domain.CodecH265,
		BitrateKbps: encoding.DefaultBitrateKbps,
		LogLevel:    "info",
	}
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, AppDirName, "settings.json")
}

// Normalize trims fields and fills anything empty or invalid from defaults.
// OutputDir stays empty when unset; jobs then write next to the input.
func Normalize(s domain.Settings) domain.Settings {
	def := DefaultSettings()

	s.FFmpegPath = orDefault(s.FFmpegPath, def.FFmpegPath)
	s.FFprobePath = orDefault(s.FFprobePath, def.FFprobePath)
	s.HWDevice = orDefault(s.HWDevice, def.HWDevice)
	s.OutputDir = strings.TrimSpace(s.OutputDir)
	s.LogLevel = strings.ToLower(orDefault(s.LogLevel, def.LogLevel))
	s.MetricsAddr = strings.TrimSpace(s.MetricsAddr)

	if mode, err := domain.ParseColorMode(string(s.ColorMode)); err == nil {
		s.ColorMode = mode
	} else {
		s.ColorMode = def.ColorMode
	}
	if codec, err := domain.ParseCodec(string(s.Codec)); err == nil {
		s.Codec = codec
	} else {
		s.Codec = def.Codec
	}
	s.BitrateKbps = encoding.ClampBitrate(s.BitrateKbps)

	return s
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
