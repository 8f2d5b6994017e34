package overlay

import (
	"image/color"
	"strings"
)

// DefaultColor is used for every class without an entry in the table.
var DefaultColor = color.RGBA{R: 12, G: 206, B: 107, A: 255}

var classColors = map[string]color.RGBA{
	"clavel":     {R: 255, G: 11, B: 85, A: 255},
	"crisantemo": {R: 126, G: 48, B: 225, A: 255},
	"delphinio":  {R: 84, G: 9, B: 218, A: 255},
	"girasol":    {R: 255, G: 164, B: 27, A: 255},
	"iris":       {R: 0, G: 255, B: 255, A: 255},
	"rosa":       {R: 227, G: 23, B: 10, A: 255},
	"tulipan":    {R: 209, G: 17, B: 73, A: 255},
}

// ColorFor maps a class name to its box colour, case insensitively.
func ColorFor(className string) color.RGBA {
	if c, ok := classColors[strings.ToLower(className)]; ok {
		return c
	}
	return DefaultColor
}
