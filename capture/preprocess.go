package capture

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// resizeWithinMax 缩放（最长边 <= maxSize），maxSize <= 0 时不缩放
func resizeWithinMax(img *image.RGBA, maxSize int) *image.RGBA {
	if maxSize <= 0 {
		return img
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return toRGBA(resized)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
