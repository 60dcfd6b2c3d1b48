package imaging

import (
	"bytes"
	"image"
	"image/png"
	"math"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"

	"studio/internal/domain"
)

// Print canvas for resized designs, in pixels.
const (
	PrintWidth  = 4500
	PrintHeight = 5400
)

// ResizeToCanvas scales the source uniformly so it fits entirely inside the
// target canvas, centers it, and leaves the remaining area transparent. The
// output is always PNG so transparency survives the round trip.
func ResizeToCanvas(src Image, targetWidth, targetHeight int) (Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "decode source image: %v", err)
	}

	bounds := decoded.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "source image has no pixels")
	}

	scale := math.Min(float64(targetWidth)/float64(srcW), float64(targetHeight)/float64(srcH))
	scaledW := int(math.Round(float64(srcW) * scale))
	scaledH := int(math.Round(float64(srcH) * scale))
	offsetX := (targetWidth - scaledW) / 2
	offsetY := (targetHeight - scaledH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	target := image.Rect(offsetX, offsetY, offsetX+scaledW, offsetY+scaledH)
	xdraw.CatmullRom.Scale(dst, target, decoded, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "encode resized image: %v", err)
	}
	return Image{MIME: "image/png", Data: buf.Bytes()}, nil
}
