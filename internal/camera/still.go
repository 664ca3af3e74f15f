package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Still is an encoded captured frame. Discarded when the attempt resets;
// never persisted by this package.
type Still struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// encodeStill mirrors the frame, applies the linear contrast transform and
// encodes it as JPEG.
func encodeStill(frame image.Image, contrast int) (Still, error) {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	factor := (259.0 * (float64(contrast) + 255.0)) / (255.0 * (259.0 - float64(contrast)))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			// Horizontal mirror: sample from the opposite column.
			r, g, bl, a := frame.At(b.Max.X-1-x, b.Min.Y+y).RGBA()
			i := out.PixOffset(x, y)
			out.Pix[i+0] = adjust(uint8(r>>8), factor)
			out.Pix[i+1] = adjust(uint8(g>>8), factor)
			out.Pix[i+2] = adjust(uint8(bl>>8), factor)
			out.Pix[i+3] = uint8(a >> 8)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 85}); err != nil {
		return Still{}, fmt.Errorf("encode still: %w", err)
	}
	return Still{Data: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

func adjust(v uint8, factor float64) uint8 {
	f := factor*(float64(v)-128) + 128
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}
