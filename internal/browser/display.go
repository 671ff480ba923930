package browser

import (
	"github.com/rotisserie/eris"
	"github.com/tebeka/selenium"
)

// DefaultScreenSize is large enough for the water portal to render every
// component.
const DefaultScreenSize = "1600x1200x24"

// FrameBuffer is an Xvfb virtual display.
type FrameBuffer struct {
	ScreenSize string

	fb *selenium.FrameBuffer
}

// NewFrameBuffer returns an unstarted virtual display.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{ScreenSize: DefaultScreenSize}
}

// Start launches Xvfb and waits for it to accept clients.
func (f *FrameBuffer) Start() (DisplayInfo, error) {
	fb, err := selenium.NewFrameBufferWithOptions(selenium.FrameBufferOptions{ScreenSize: f.ScreenSize})
	if err != nil {
		return DisplayInfo{}, eris.Wrap(err, "browser: start Xvfb")
	}
	f.fb = fb
	return DisplayInfo{Number: fb.Display, AuthPath: fb.AuthPath}, nil
}

// Stop terminates Xvfb.
func (f *FrameBuffer) Stop() error {
	if f.fb == nil {
		return nil
	}
	fb := f.fb
	f.fb = nil
	return eris.Wrap(fb.Stop(), "browser: stop Xvfb")
}
