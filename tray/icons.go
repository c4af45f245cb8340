package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	LinkColor   color.RGBA
	// Pulse draws a dot in the corner while work is in progress.
	Pulse bool
}

// IdleIconConfig is the icon shown while the host is serving normally.
func IdleIconConfig() IconConfig {
	return IconConfig{
		Size:        22,
		FillColor:   color.RGBA{25, 118, 210, 255},  // Blue
		BorderColor: color.RGBA{66, 165, 245, 255},  // Light blue
		LinkColor:   color.RGBA{255, 255, 255, 255}, // White
	}
}

// BusyIconConfig is the icon shown while an update check runs.
func BusyIconConfig() IconConfig {
	return IconConfig{
		Size:        22,
		FillColor:   color.RGBA{245, 124, 0, 255},   // Orange
		BorderColor: color.RGBA{255, 183, 77, 255},  // Light orange
		LinkColor:   color.RGBA{255, 255, 255, 255}, // White
		Pulse:       true,
	}
}

// IconGenerator generates PNG icons for the system tray.
type IconGenerator struct {
	config IconConfig
}

// NewIconGenerator creates a new icon generator with the given config.
func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Generate creates a PNG icon and returns the bytes.
func (g *IconGenerator) Generate() []byte {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	g.drawTile(img)
	g.drawLink(img)
	if g.config.Pulse {
		g.drawPulse(img)
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// drawTile draws a rounded square with a one pixel border.
func (g *IconGenerator) drawTile(img *image.RGBA) {
	size := g.config.Size
	const radius = 4.0

	inTile := func(x, y float64) bool {
		lo, hi := 1.0, float64(size)-1
		if x < lo || x > hi || y < lo || y > hi {
			return false
		}
		cx := clamp(x, lo+radius, hi-radius)
		cy := clamp(y, lo+radius, hi-radius)
		dx, dy := x-cx, y-cy
		return dx*dx+dy*dy <= radius*radius
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inTile(fx, fy) {
				continue
			}
			isBorder := !inTile(fx-1, fy) || !inTile(fx+1, fy) ||
				!inTile(fx, fy-1) || !inTile(fx, fy+1)
			if isBorder {
				img.Set(x, y, g.config.BorderColor)
			} else {
				img.Set(x, y, g.config.FillColor)
			}
		}
	}
}

// drawLink draws two endpoints joined by a bar: the UI and the host.
func (g *IconGenerator) drawLink(img *image.RGBA) {
	size := g.config.Size
	c := g.config.LinkColor
	mid := size / 2

	for _, cx := range []int{size / 4, size - size/4 - 1} {
		for y := mid - 2; y <= mid+2; y++ {
			for x := cx - 2; x <= cx+2; x++ {
				dx, dy := x-cx, y-mid
				if dx*dx+dy*dy <= 5 {
					img.Set(x, y, c)
				}
			}
		}
	}
	for x := size / 4; x <= size-size/4-1; x++ {
		img.Set(x, mid, c)
	}
}

func (g *IconGenerator) drawPulse(img *image.RGBA) {
	size := g.config.Size
	for y := 2; y <= 4; y++ {
		for x := size - 5; x <= size-3; x++ {
			img.Set(x, y, g.config.LinkColor)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GenerateIdleIcon generates the idle state icon.
func GenerateIdleIcon() []byte {
	return NewIconGenerator(IdleIconConfig()).Generate()
}

// GenerateBusyIcon generates the busy state icon.
func GenerateBusyIcon() []byte {
	return NewIconGenerator(BusyIconConfig()).Generate()
}
