package avsync

import (
	"image/color"
	"sync"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2"
)

// Surface is the GL surface collaborator from spec §6: a GL context kept
// current on the render thread, with a Present primitive standing in for
// "swap buffers" — success means the clock may advance. Ebitengine has no
// explicit swap call (presentation happens inside its own Draw callback),
// so Present is modeled as "texture upload committed", exactly the moment
// controller_no_audio.go's copyFrame considers a frame current.
type Surface interface {
	Present(frame *reisen.VideoFrame) bool
	Image() *ebiten.Image
}

// ebitenSurface owns the reused *ebiten.Image the host's Draw callback
// reads from, mirroring Player.currentFrame/copyFrame in the teacher.
type ebitenSurface struct {
	mu      sync.Mutex
	image   *ebiten.Image
	onBlack bool
}

func newEbitenSurface(width, height int) *ebitenSurface {
	img := ebiten.NewImage(width, height)
	img.Fill(color.Black)
	return &ebitenSurface{image: img, onBlack: true}
}

// Present uploads the frame's pixel data into the surface's backing
// image. A nil frame paints black (used on stop/seek-miss) and always
// succeeds; a non-nil frame succeeds unless WritePixels panics on a
// dimension mismatch, which we treat as a programmer error upstream
// (reisen guarantees consistent stream dimensions) rather than a
// recoverable Present failure.
func (s *ebitenSurface) Present(frame *reisen.VideoFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame == nil {
		if !s.onBlack {
			s.image.Fill(color.Black)
			s.onBlack = true
		}
		return true
	}
	s.image.WritePixels(frame.Data())
	s.onBlack = false
	return true
}

// Image returns the surface's backing image for the host to draw.
func (s *ebitenSurface) Image() *ebiten.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}
