// Package progress turns ffmpeg stats lines into percentage and ETA.
package progress

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"dv-converter/internal/domain"
)

// Example: frame= 1234 fps=25.0 q=28.0 size=  10240kB time=00:00:51.20 bitrate=1638.4kbits/s speed=1.05x
var reTime = regexp.MustCompile(`time=(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)

// Elapsed extracts the time= marker from a line.
func Elapsed(line string) (time.Duration, bool) {
	match := reTime.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[3], 64)
	if err != nil {
		return 0, false
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), true
}

// Parse converts a line into a progress sample against total. It reports false
// when the line has no time marker or total is unknown.
func Parse(line string, total time.Duration) (domain.Progress, bool) {
	if total <= 0 {
		return domain.Progress{}, false
	}
	elapsed, ok := Elapsed(line)
	if !ok {
		return domain.Progress{}, false
	}

	percent := 100 * float64(elapsed) / float64(total)
	if percent > 100 {
		percent = 100
	}
	eta := total - elapsed
	if eta < 0 {
		eta = 0
	}

	return domain.Progress{Percent: percent, ETA: eta}, true
}

// FormatETA renders d as HH:MM:SS, rounding down to whole seconds.
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(math.Floor(d.Seconds()))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// StatusLine renders a sample as the one-line status shown to the user.
func StatusLine(p domain.Progress) string {
	return fmt.Sprintf("Converting... %.1f%%  ETA: %s", p.Percent, FormatETA(p.ETA))
}
