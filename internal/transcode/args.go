package transcode

import (
	"strconv"

	"dv-converter/internal/domain"
	"dv-converter/internal/encoding"
)

// DefaultHWDevice is the Vulkan device used by the libplacebo filter stage.
const DefaultHWDevice = "vulkan"

// BuildArgs assembles the full ffmpeg argument vector for one job.
func BuildArgs(hwDevice, inputPath, outputPath string, plan domain.EncodingPlan) []string {
	if hwDevice == "" {
		hwDevice = DefaultHWDevice
	}

	args := make([]string, 0, 32)
	args = append(args,
		"-nostdin",
		"-loglevel", "error",
		"-stats",
		"-y",
		"-init_hw_device", hwDevice+"="+hwDevice,
		"-filter_hw_device", hwDevice,
		"-i", inputPath,
		"-vf", plan.FilterGraph,
		"-c:v", plan.EncoderName,
		"-c:a", "copy",
		"-c:s", "copy",
		"-b:v", strconv.Itoa(plan.BitrateKbps)+"k",
	)

	if flag := encoding.ParamsFlag(plan.EncoderName); flag != "" && plan.EncoderParams != "" {
		args = append(args, flag, plan.EncoderParams)
	}

	return append(args, outputPath)
}
