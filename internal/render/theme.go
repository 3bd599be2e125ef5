package render

import (
	"time"

	"github.com/fatih/color"
)

// Theme is a terminal color palette. The three named palettes follow the
// widget's seasonal Ayurvedic themes; "auto" picks one by calendar month.
type Theme struct {
	Name      string
	User      *color.Color
	Assistant *color.Color
	Accent    *color.Color
	Warn      *color.Color
	Muted     *color.Color
}

func vataTheme() Theme {
	return Theme{
		Name:      "vata",
		User:      color.New(color.FgGreen),
		Assistant: color.New(color.FgWhite),
		Accent:    color.New(color.FgMagenta),
		Warn:      color.New(color.FgYellow),
		Muted:     color.New(color.FgHiBlack),
	}
}

func pittaTheme() Theme {
	return Theme{
		Name:      "pitta",
		User:      color.New(color.FgHiCyan),
		Assistant: color.New(color.FgWhite),
		Accent:    color.New(color.FgCyan),
		Warn:      color.New(color.FgYellow),
		Muted:     color.New(color.FgHiBlack),
	}
}

func kaphaTheme() Theme {
	return Theme{
		Name:      "kapha",
		User:      color.New(color.FgYellow),
		Assistant: color.New(color.FgWhite),
		Accent:    color.New(color.FgHiYellow),
		Warn:      color.New(color.FgRed),
		Muted:     color.New(color.FgHiBlack),
	}
}

// ThemeFor resolves a configured theme name. "auto" maps the month the way
// the widget always has: December through February is vata, June through
// September is pitta, everything else is kapha.
func ThemeFor(name string, now time.Time) Theme {
	switch name {
	case "vata":
		return vataTheme()
	case "pitta":
		return pittaTheme()
	case "kapha":
		return kaphaTheme()
	}
	switch now.Month() {
	case time.December, time.January, time.February:
		return vataTheme()
	case time.June, time.July, time.August, time.September:
		return pittaTheme()
	default:
		return kaphaTheme()
	}
}
