// Package quality owns the stream's target width, JPEG quality and frame
// rate, and clamps every change to configured bounds.
package quality

import "sync"

// Bounds is the allowed range for each adjustable field.
type Bounds struct {
	MinWidth, MaxWidth             int
	MinJPEGQuality, MaxJPEGQuality int
	MinFPS, MaxFPS                 int
}

// DefaultBounds matches a typical desktop share: enough headroom to look
// good on a fast link, a floor that stays legible on a bad one.
func DefaultBounds() Bounds {
	return Bounds{
		MinWidth: 480, MaxWidth: 1920,
		MinJPEGQuality: 20, MaxJPEGQuality: 90,
		MinFPS: 1, MaxFPS: 30,
	}
}

// Settings is a consistent snapshot of the current targets. Height is
// derived from TargetWidth and the host aspect ratio, never set directly.
type Settings struct {
	TargetWidth  int
	TargetHeight int
	JPEGQuality  int
	FPS          int
}

// Update is a partial settings request. Nil fields are left unchanged.
type Update struct {
	Width       *int `json:"width,omitempty"`
	JPEGQuality *int `json:"jpegQuality,omitempty"`
	FPS         *int `json:"fps,omitempty"`
}

// Controller applies quality changes under a single-writer discipline.
// Out-of-range fields in an update are dropped silently: clients send
// noisy values and a rejected setting is not worth an error round trip.
type Controller struct {
	mu           sync.Mutex
	bounds       Bounds
	screenWidth  int
	screenHeight int
	cur          Settings
}

func NewController(bounds Bounds, screenWidth, screenHeight int, initial Settings) *Controller {
	c := &Controller{
		bounds:       bounds,
		screenWidth:  screenWidth,
		screenHeight: screenHeight,
	}
	c.cur = Settings{
		TargetWidth: clamp(initial.TargetWidth, bounds.MinWidth, bounds.MaxWidth),
		JPEGQuality: clamp(initial.JPEGQuality, bounds.MinJPEGQuality, bounds.MaxJPEGQuality),
		FPS:         clamp(initial.FPS, bounds.MinFPS, bounds.MaxFPS),
	}
	c.cur.TargetHeight = c.deriveHeight(c.cur.TargetWidth)
	return c
}

// Snapshot returns the current settings as a value.
func (c *Controller) Snapshot() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Bounds returns the configured bounds.
func (c *Controller) Bounds() Bounds {
	return c.bounds
}

// ScreenSize returns the host screen dimensions the controller derives
// aspect ratio from.
func (c *Controller) ScreenSize() (width, height int) {
	return c.screenWidth, c.screenHeight
}

// Apply merges an update into the current settings. A field is accepted
// only when present, inside bounds and different from the current value.
// Returns whether anything changed, and whether the frame rate changed
// (the capture timer must be re-armed in that case).
func (c *Controller) Apply(u Update) (changed, fpsChanged bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Width != nil && inRange(*u.Width, c.bounds.MinWidth, c.bounds.MaxWidth) && *u.Width != c.cur.TargetWidth {
		c.cur.TargetWidth = *u.Width
		c.cur.TargetHeight = c.deriveHeight(*u.Width)
		changed = true
	}
	if u.JPEGQuality != nil && inRange(*u.JPEGQuality, c.bounds.MinJPEGQuality, c.bounds.MaxJPEGQuality) && *u.JPEGQuality != c.cur.JPEGQuality {
		c.cur.JPEGQuality = *u.JPEGQuality
		changed = true
	}
	if u.FPS != nil && inRange(*u.FPS, c.bounds.MinFPS, c.bounds.MaxFPS) && *u.FPS != c.cur.FPS {
		c.cur.FPS = *u.FPS
		changed = true
		fpsChanged = true
	}
	return changed, fpsChanged
}

// StepDown lowers JPEG quality and width by the given steps, clamped to
// the configured minimums. Returns true when anything moved.
func (c *Controller) StepDown(qualityStep, widthStep int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	moved := false
	if q := max(c.cur.JPEGQuality-qualityStep, c.bounds.MinJPEGQuality); q != c.cur.JPEGQuality {
		c.cur.JPEGQuality = q
		moved = true
	}
	if w := max(c.cur.TargetWidth-widthStep, c.bounds.MinWidth); w != c.cur.TargetWidth {
		c.cur.TargetWidth = w
		c.cur.TargetHeight = c.deriveHeight(w)
		moved = true
	}
	return moved
}

// StepUp raises JPEG quality and width by the given steps, clamped to
// the configured maximums. Returns true when anything moved.
func (c *Controller) StepUp(qualityStep, widthStep int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	moved := false
	if q := min(c.cur.JPEGQuality+qualityStep, c.bounds.MaxJPEGQuality); q != c.cur.JPEGQuality {
		c.cur.JPEGQuality = q
		moved = true
	}
	if w := min(c.cur.TargetWidth+widthStep, c.bounds.MaxWidth); w != c.cur.TargetWidth {
		c.cur.TargetWidth = w
		c.cur.TargetHeight = c.deriveHeight(w)
		moved = true
	}
	return moved
}

// deriveHeight preserves the host aspect ratio exactly. Callers hold c.mu.
func (c *Controller) deriveHeight(width int) int {
	if c.screenWidth == 0 {
		return 0
	}
	return width * c.screenHeight / c.screenWidth
}

func inRange(v, lo, hi int) bool { return v >= lo && v <= hi }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
