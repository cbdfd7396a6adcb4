package formatter

import (
	"github.com/fatih/color"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

var (
	passColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

// Icon returns the colored marker for s. Color is dropped automatically when
// the output is not a terminal or NO_COLOR is set.
func Icon(s Status) string {
	switch s {
	case StatusPass:
		return passColor.Sprint("✓")
	case StatusWarn:
		return warnColor.Sprint("!")
	case StatusFail:
		return failColor.Sprint("✗")
	}
	return "?"
}

// Worst returns the most severe status in ss.
func Worst(ss ...Status) Status {
	worst := StatusPass
	for _, s := range ss {
		switch {
		case s == StatusFail:
			return StatusFail
		case s == StatusWarn:
			worst = StatusWarn
		}
	}
	return worst
}
