package dot

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/maps"
)

// HSL is a color in the HSL model, every component in [0,1].
type HSL struct {
	H, S, L float64
}

// RGB is a gamma corrected color, every component in [0,1].
type RGB struct {
	R, G, B float64
}

// Hex renders the color as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

func channel(f float64) int {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return int(255*f + 0.5)
}

// Theme maps display weights in [0,1] to colors and sizes.
type Theme struct {
	Background HSL
	MinColor   HSL
	MaxColor   HSL
	FontName   string
	FontColor  string
	// NodeStyle is "filled" or "solid". Filled nodes draw their label in the
	// background color.
	NodeStyle   string
	MinFontSize float64
	MaxFontSize float64
	MinPenWidth float64
	MaxPenWidth float64
	Gamma       float64
	// Skew bends the color curve. Below one spreads low weights apart,
	// above one compresses them.
	Skew float64
}

// base is the default from which every named theme starts.
var base = Theme{
	Background:  HSL{0, 0, 1},
	MinColor:    HSL{0, 0, 0},
	MaxColor:    HSL{0, 0, 1},
	FontName:    "Arial",
	FontColor:   "white",
	NodeStyle:   "filled",
	MinFontSize: 10,
	MaxFontSize: 10,
	MinPenWidth: 0.5,
	MaxPenWidth: 4,
	Gamma:       2.2,
	Skew:        1,
}

func theme(modify func(t *Theme)) Theme {
	t := base
	modify(&t)
	return t
}

var themes = map[string]Theme{
	"color": theme(func(t *Theme) {
		t.MinColor = HSL{2.0 / 3.0, 0.80, 0.25}
		t.MaxColor = HSL{0, 1, 0.5}
		t.Gamma = 1
	}),
	"dark": theme(func(t *Theme) {
		t.Background = HSL{0, 0, 0}
		t.MinColor = HSL{2.0 / 3.0, 0.20, 0.5}
		t.MaxColor = HSL{0, 1, 0.5}
		t.FontColor = "black"
		t.Gamma = 1
	}),
	"pink": theme(func(t *Theme) {
		t.MinColor = HSL{0, 1, 0.90}
		t.MaxColor = HSL{0, 1, 0.5}
	}),
	"gray": theme(func(t *Theme) {
		t.MinColor = HSL{0, 0, 0.85}
		t.MaxColor = HSL{0, 0, 0}
	}),
	"bw": theme(func(t *Theme) {
		t.MinFontSize = 8
		t.MaxFontSize = 24
		t.MinPenWidth = 0.1
		t.MaxPenWidth = 8
	}),
	"print": theme(func(t *Theme) {
		t.MinFontSize = 18
		t.MaxFontSize = 30
		t.FontColor = "black"
		t.NodeStyle = "solid"
		t.MinPenWidth = 0.1
		t.MaxPenWidth = 8
	}),
}

// DefaultTheme is the theme used when none is named.
const DefaultTheme = "color"

func ThemeNames() []string {
	names := maps.Keys(themes)
	sort.Strings(names)
	return names
}

// LookupTheme returns a copy of the named theme with skew applied.
func LookupTheme(name string, skew float64) (Theme, error) {
	if name == "" {
		name = DefaultTheme
	}
	t, ok := themes[name]
	if !ok {
		return Theme{}, fmt.Errorf("unknown colormap %q, expected one of %v", name, ThemeNames())
	}
	if skew <= 0 {
		return Theme{}, fmt.Errorf("skew must be greater than 0, got %g", skew)
	}
	t.Skew = skew
	return t, nil
}

func (t Theme) BackgroundColor() RGB {
	return t.hslToRGB(t.Background)
}

func (t Theme) NodeColor(weight float64) RGB {
	return t.Color(weight)
}

func (t Theme) NodeFontColor(weight float64) RGB {
	if t.NodeStyle == "filled" {
		return t.BackgroundColor()
	}
	return t.Color(weight)
}

func (t Theme) FontSize(weight float64) float64 {
	return math.Max(weight*weight*t.MaxFontSize, t.MinFontSize)
}

func (t Theme) PenWidth(weight float64) float64 {
	return math.Max(weight*t.MaxPenWidth, t.MinPenWidth)
}

func (t Theme) ArrowSize(weight float64) float64 {
	return 0.5 * math.Sqrt(t.PenWidth(weight))
}

// Color interpolates between MinColor and MaxColor.
func (t Theme) Color(weight float64) RGB {
	weight = math.Min(math.Max(weight, 0), 1)
	lo, hi := t.MinColor, t.MaxColor

	f := weight
	if t.Skew != 1 {
		f = (math.Pow(t.Skew, weight) - 1) / (t.Skew - 1)
	}
	return t.hslToRGB(HSL{
		H: lo.H + f*(hi.H-lo.H),
		S: lo.S + f*(hi.S-lo.S),
		L: lo.L + f*(hi.L-lo.L),
	})
}

// hslToRGB follows the CSS3 color conversion, then applies gamma.
func (t Theme) hslToRGB(c HSL) RGB {
	h := math.Mod(c.H, 1)
	if h < 0 {
		h++
	}
	s := math.Min(math.Max(c.S, 0), 1)
	l := math.Min(math.Max(c.L, 0), 1)

	var m2 float64
	if l <= 0.5 {
		m2 = l * (s + 1)
	} else {
		m2 = l + s - l*s
	}
	m1 := l*2 - m2

	return RGB{
		R: math.Pow(hueToRGB(m1, m2, h+1.0/3.0), t.Gamma),
		G: math.Pow(hueToRGB(m1, m2, h), t.Gamma),
		B: math.Pow(hueToRGB(m1, m2, h-1.0/3.0), t.Gamma),
	}
}

func hueToRGB(m1, m2, h float64) float64 {
	if h < 0 {
		h++
	} else if h > 1 {
		h--
	}
	switch {
	case h*6 < 1:
		return m1 + (m2-m1)*h*6
	case h*2 < 1:
		return m2
	case h*3 < 2:
		return m1 + (m2-m1)*(2.0/3.0-h)*6
	}
	return m1
}
