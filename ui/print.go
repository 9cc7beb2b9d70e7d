package ui

import (
	"fmt"

	"github.com/CK6170/suspscale-go/pipeline"
)

// PrintWeightLine prints a single in-place (carriage-return) line with the
// latest processed sample per side during live monitoring.
func PrintWeightLine(left, right *pipeline.ProcessedSample, dropped uint64) {
	line := "\r[LIVE] "
	line += formatSide("L", left)
	line += formatSide("R", right)
	if dropped > 0 {
		line += fmt.Sprintf(" drops:%d", dropped)
	}
	line += "                    "
	fmt.Print(line)
}

func formatSide(tag string, s *pipeline.ProcessedSample) string {
	if s == nil {
		return fmt.Sprintf("%s: ---------  ", tag)
	}
	if !s.HasModel {
		return fmt.Sprintf("%s: raw %6d (uncal)  ", tag, s.Raw)
	}
	return fmt.Sprintf("%s: %8.2fkg (raw %6d)  ", tag, s.Tared, s.Raw)
}
