package storage

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/blobuq/internal/sc"
)

var svgPalette = []string{"#00ff00", "#00aaff", "#ff00ff", "#ffaa00", "#ff5555"}

// ErrorHistorySVG plots log10 of the normalized adaptation error against the
// position in the history, one line per QoI in order of first appearance.
func ErrorHistorySVG(history []sc.AdaptationError, width, height int) (string, error) {
	if len(history) < 2 {
		return "", fmt.Errorf("need at least two refinements to plot, have %d", len(history))
	}
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("invalid plot size %dx%d", width, height)
	}

	type point struct{ x, y float64 }
	var order []string
	lines := make(map[string][]point)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i, h := range history {
		y := math.Log10(math.Max(h.Normalized, 1e-300))
		if _, ok := lines[h.QoI]; !ok {
			order = append(order, h.QoI)
		}
		lines[h.QoI] = append(lines[h.QoI], point{float64(i), y})
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}

	minX, maxX := 0.0, float64(len(history)-1)
	rangeY := maxY - minY
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX := maxX - minX
	rangeY = maxY - minY

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	for n, qoi := range order {
		color := svgPalette[n%len(svgPalette)]
		fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, color)
		for i, p := range lines[qoi] {
			x := (p.x - minX) / rangeX * float64(width)
			y := float64(height) - (p.y-minY)/rangeY*float64(height)
			if i == 0 {
				fmt.Fprintf(&sb, "M%.1f,%.1f", x, y)
			} else {
				fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
			}
		}
		sb.WriteString("\"/>\n")
		fmt.Fprintf(&sb, `<text x="8" y="%d" fill="%s" font-family="monospace" font-size="12">%s</text>
`, 16*(n+1), color, qoi)
	}

	sb.WriteString("</svg>\n")
	return sb.String(), nil
}
