package compiler

import (
	"math"
	"strconv"
)

// formatParam renders an acceleration/deceleration/velocity value the
// way the drive reports it back: rounded to 4 decimal places (the most
// the drive supports) and with the decimal part dropped for integral
// values, so what we send compares equal to what the drive echoes.
func formatParam(v float64) string {
	r := math.Round(v*1e4) / 1e4
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// formatTime renders a pause duration for the T command: seconds with
// at most 3 decimal places, integral values without a decimal part.
func formatTime(t float64) string {
	r := math.Round(t*1e3) / 1e3
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// formatDistance renders a distance for the D command. Distances are
// whole encoder counts; any fractional part is truncated.
func formatDistance(d float64) string {
	return strconv.FormatInt(int64(d), 10)
}
