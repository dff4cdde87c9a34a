package datasets

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/pkg/errors"
)

// Frame geometry of every Cholec80 frame.
const (
	FrameHeight   = 480
	FrameWidth    = 854
	FrameChannels = 3
)

// ErrFrameShape is returned when a decoded frame does not have the corpus
// geometry.
var ErrFrameShape = errors.New("unexpected frame geometry")

// Frame is a decoded RGB frame in row-major height x width x channel order.
type Frame struct {
	Pix []uint8
}

// At returns the RGB triple at row y, column x.
func (f Frame) At(y, x int) (r, g, b uint8) {
	i := (y*FrameWidth + x) * FrameChannels
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// DecodeFrame decodes a PNG frame into a 480x854x3 pixel grid. Alpha is
// dropped and grayscale is replicated across channels.
func DecodeFrame(b []byte) (Frame, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return Frame{}, errors.Wrap(err, "failed to decode frame")
	}
	r := img.Bounds()
	if r.Dx() != FrameWidth || r.Dy() != FrameHeight {
		return Frame{}, errors.Wrapf(ErrFrameShape, "got %dx%d, want %dx%d", r.Dx(), r.Dy(), FrameWidth, FrameHeight)
	}

	pix := make([]uint8, FrameHeight*FrameWidth*FrameChannels)
	switch m := img.(type) {
	case *image.RGBA:
		copyRGBX(pix, m.Pix, m.Stride, m.PixOffset(r.Min.X, r.Min.Y))
	case *image.NRGBA:
		copyRGBX(pix, m.Pix, m.Stride, m.PixOffset(r.Min.X, r.Min.Y))
	case *image.Gray:
		o := 0
		for y := 0; y < FrameHeight; y++ {
			row := m.Pix[m.PixOffset(r.Min.X, r.Min.Y+y):]
			for x := 0; x < FrameWidth; x++ {
				v := row[x]
				pix[o], pix[o+1], pix[o+2] = v, v, v
				o += FrameChannels
			}
		}
	default:
		o := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				pix[o], pix[o+1], pix[o+2] = c.R, c.G, c.B
				o += FrameChannels
			}
		}
	}
	return Frame{Pix: pix}, nil
}

// copyRGBX copies 4-byte pixels into the packed 3-channel grid.
func copyRGBX(dst, src []uint8, stride, offset int) {
	o := 0
	for y := 0; y < FrameHeight; y++ {
		row := src[offset+y*stride:]
		for x := 0; x < FrameWidth; x++ {
			dst[o], dst[o+1], dst[o+2] = row[4*x], row[4*x+1], row[4*x+2]
			o += FrameChannels
		}
	}
}
