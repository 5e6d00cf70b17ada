package deck

import (
	"fmt"
	"math/rand/v2"
)

// Palettes are grouped in bands of four, one band per theme.
var palettes = [][2]string{
	{"#667eea", "#764ba2"}, {"#667eea", "#f093fb"}, {"#4facfe", "#00f2fe"}, {"#43e97b", "#38f9d7"},
	{"#fa709a", "#fee140"}, {"#ffecd2", "#fcb69f"}, {"#ff9a9e", "#fecfef"}, {"#ff8a80", "#ea4c46"},
	{"#a8edea", "#fed6e3"}, {"#30cfd0", "#91a7ff"}, {"#a1c4fd", "#c2e9fb"}, {"#fbc2eb", "#a6c1ee"},
	{"#667eea", "#764ba2"}, {"#f093fb", "#f5576c"}, {"#c471f5", "#fa71cd"}, {"#b721ff", "#21d4fd"},
	{"#56ab2f", "#a8e6cf"}, {"#11998e", "#38ef7d"}, {"#00b09b", "#96c93d"}, {"#1e3c72", "#2a5298"},
	{"#ff7e5f", "#feb47b"}, {"#ff6b6b", "#feca57"}, {"#ffa726", "#fb8c00"}, {"#ff9966", "#ff5722"},
}

var themes = map[string]int{
	"professional": 0,
	"warm":         1,
	"cool":         2,
	"creative":     3,
	"nature":       4,
	"energy":       5,
}

var directions = []string{
	"to right", "to left", "to bottom", "to top",
	"to bottom right", "to bottom left", "to top right", "to top left",
	"45deg", "135deg", "225deg", "315deg",
}

// Gradient is a two-colour CSS linear gradient.
type Gradient struct {
	CSS       string    `json:"gradient"`
	Colors    [2]string `json:"colors"`
	Direction string    `json:"direction"`
	Theme     string    `json:"theme,omitempty"`
}

// PickGradient chooses a palette from the theme's band, or from all palettes
// when the theme is unknown or empty.
func PickGradient(rng *rand.Rand, theme string) Gradient {
	choices := palettes
	if band, ok := themes[theme]; ok {
		choices = palettes[band*4 : band*4+4]
	} else {
		theme = "random"
	}
	g := newGradient(pick(rng, choices), pick(rng, directions))
	g.Theme = theme
	return g
}

// Variations returns n gradients drawn from every palette.
func Variations(rng *rand.Rand, n int) []Gradient {
	out := make([]Gradient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newGradient(pick(rng, palettes), pick(rng, directions)))
	}
	return out
}

// CustomGradient builds a gradient from caller supplied colours.
func CustomGradient(colors []string, direction string) (Gradient, error) {
	if len(colors) < 2 {
		return Gradient{}, fmt.Errorf("need at least 2 colors for gradient")
	}
	if direction == "" {
		direction = "to right"
	}
	return newGradient([2]string{colors[0], colors[1]}, direction), nil
}

func newGradient(colors [2]string, direction string) Gradient {
	return Gradient{
		CSS:       fmt.Sprintf("linear-gradient(%s, %s, %s)", direction, colors[0], colors[1]),
		Colors:    colors,
		Direction: direction,
	}
}
