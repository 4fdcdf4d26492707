// Package filter applies colour and tone presets to single images.
package filter

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Modulate scales brightness and saturation (1 = unchanged) and rotates hue
// by Hue degrees.
type Modulate struct {
	Brightness float64 `yaml:"brightness"`
	Saturation float64 `yaml:"saturation"`
	Hue        float64 `yaml:"hue"`
}

// Linear maps every channel value v to A*v + B.
type Linear struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
}

// Preset is a declarative set of optional operations. Render applies the
// enabled ones in a fixed order: grayscale, modulate, tint, gamma, linear,
// blur.
type Preset struct {
	Grayscale bool
	Modulate  *Modulate
	Tint      *color.NRGBA // recolour keeping each pixel's luminance
	Gamma     float64      // 0 = off; <1 darkens, >1 lightens
	Linear    *Linear
	Blur      float64 // gaussian sigma, 0 = off
}

// IsZero reports whether the preset leaves the image unchanged.
func (p Preset) IsZero() bool {
	return !p.Grayscale && p.Modulate == nil && p.Tint == nil &&
		p.Gamma == 0 && p.Linear == nil && p.Blur == 0
}

// Render returns a filtered copy of img.
func (p Preset) Render(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)

	if p.Grayscale {
		out = imaging.Grayscale(out)
	}
	if m := p.Modulate; m != nil {
		out = modulate(out, *m)
	}
	if p.Tint != nil {
		out = tint(out, *p.Tint)
	}
	if p.Gamma > 0 && p.Gamma != 1 {
		out = imaging.AdjustGamma(out, p.Gamma)
	}
	if l := p.Linear; l != nil {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: clamp(l.A*float64(c.R) + l.B),
				G: clamp(l.A*float64(c.G) + l.B),
				B: clamp(l.A*float64(c.B) + l.B),
				A: c.A,
			}
		})
	}
	if p.Blur > 0 {
		out = imaging.Blur(out, p.Blur)
	}
	return out
}

func modulate(img *image.NRGBA, m Modulate) *image.NRGBA {
	if m.Brightness > 0 && m.Brightness != 1 {
		k := m.Brightness
		img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: clamp(float64(c.R) * k),
				G: clamp(float64(c.G) * k),
				B: clamp(float64(c.B) * k),
				A: c.A,
			}
		})
	}
	if m.Saturation > 0 && m.Saturation != 1 {
		img = imaging.AdjustSaturation(img, (m.Saturation-1)*100)
	}
	if m.Hue != 0 {
		img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			return rotateHue(c, m.Hue)
		})
	}
	return img
}

// tint recolours each pixel with t, scaled so the pixel keeps its luminance.
func tint(img *image.NRGBA, t color.NRGBA) *image.NRGBA {
	ref := luma(t)
	if ref == 0 {
		ref = 1
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		k := luma(c) / ref
		return color.NRGBA{
			R: clamp(float64(t.R) * k),
			G: clamp(float64(t.G) * k),
			B: clamp(float64(t.B) * k),
			A: c.A,
		}
	})
}

// Config is the YAML form of a Preset, used for custom presets.
type Config struct {
	Grayscale bool      `yaml:"grayscale"`
	Modulate  *Modulate `yaml:"modulate"`
	Tint      string    `yaml:"tint"` // "#rrggbb"
	Gamma     float64   `yaml:"gamma"`
	Linear    *Linear   `yaml:"linear"`
	Blur      float64   `yaml:"blur"`
}

// Preset converts the config form.
func (c Config) Preset() (Preset, error) {
	p := Preset{
		Grayscale: c.Grayscale,
		Modulate:  c.Modulate,
		Gamma:     c.Gamma,
		Linear:    c.Linear,
		Blur:      c.Blur,
	}
	if c.Tint != "" {
		t, err := ParseHex(c.Tint)
		if err != nil {
			return Preset{}, fmt.Errorf("tint: %w", err)
		}
		p.Tint = &t
	}
	if p.Gamma < 0 || p.Blur < 0 {
		return Preset{}, fmt.Errorf("gamma and blur must not be negative")
	}
	return p, nil
}

func rgb(r, g, b uint8) *color.NRGBA {
	return &color.NRGBA{R: r, G: g, B: b, A: 0xFF}
}

// Builtin holds the presets every Engine knows.
var Builtin = map[string]Preset{
	"none": {},
	"bw":   {Grayscale: true},
	"sepia": {
		Grayscale: true,
		Tint:      rgb(112, 66, 20),
	},
	"vintage": {
		Modulate: &Modulate{Brightness: 1.05, Saturation: 0.6},
		Gamma:    1.1,
		Linear:   &Linear{A: 0.85, B: 25},
	},
	"warm": {
		Modulate: &Modulate{Brightness: 1.05, Saturation: 1.2, Hue: -8},
	},
	"cool": {
		Modulate: &Modulate{Saturation: 0.9, Hue: 12},
		Linear:   &Linear{A: 1, B: -5},
	},
	"vivid": {
		Modulate: &Modulate{Saturation: 1.5},
		Linear:   &Linear{A: 1.15, B: -15},
	},
	"dreamy": {
		Modulate: &Modulate{Brightness: 1.1, Saturation: 0.8},
		Gamma:    1.1,
		Blur:     1.2,
	},
	"noir": {
		Grayscale: true,
		Linear:    &Linear{A: 1.4, B: -40},
		Gamma:     0.9,
	},
}
