package media

import (
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DecodePreview decodes an image and scales it to fit within size, keeping the
// aspect ratio. A zero size, or an image already inside the bounds, is returned
// unscaled.
func DecodePreview(r io.Reader, size image.Point) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding preview: %w", err)
	}
	return ScaleToFit(img, size), nil
}

// ScaleToFit scales img down so it fits inside size.
func ScaleToFit(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if size.X <= 0 || size.Y <= 0 || (b.Dx() <= size.X && b.Dy() <= size.Y) {
		return img
	}

	w, h := size.X, b.Dy()*size.X/b.Dx()
	if h > size.Y {
		w, h = b.Dx()*size.Y/b.Dy(), size.Y
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
