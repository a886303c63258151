// Package popup presents the warning surface: a small app-mode browser
// window positioned over the window that triggered the request.
package popup

import (
	"math"
	"time"

	"walletgate/internal/domain"
)

const (
	// Fixed popup width; height grows with decoded content.
	windowWidth  = 480
	baseHeight   = 320
	lineHeight   = 24
	bypassMargin = 24

	// Some window managers apply their own placement after creation;
	// bounds are re-applied once after this delay.
	settleDelay = 150 * time.Millisecond
)

// Geometry computes the popup bounds relative to a reference window.
// The popup is centered horizontally and placed at 20% of the remaining
// vertical space from the top.
func Geometry(ref domain.WindowBounds, contentLines int, bypassed bool) domain.WindowBounds {
	height := baseHeight + lineHeight*contentLines
	if bypassed {
		height += bypassMargin
	}

	return domain.WindowBounds{
		Width:  windowWidth,
		Height: height,
		Left:   ref.Left + int(math.Round(float64(ref.Width-windowWidth)*0.5)),
		Top:    ref.Top + int(math.Round(float64(ref.Height-height)*0.2)),
	}
}
