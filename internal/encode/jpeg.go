// Package encode scales raw captured frames and compresses them to JPEG.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"deskcast/internal/types"
)

// JPEGEncoder implements types.FrameEncoder. The resize filter is picked
// per call: CatmullRom when there is headroom, ApproxBiLinear when the
// pipeline is running hot.
type JPEGEncoder struct{}

func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{}
}

func (e *JPEGEncoder) Encode(frame *types.Frame, width, height, quality int, mode types.ResizeMode) ([]byte, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", width, height)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("invalid quality %d", quality)
	}

	src, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}

	out := src
	if width != frame.Width || height != frame.Height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		scaler(mode).Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func scaler(mode types.ResizeMode) draw.Scaler {
	if mode == types.ResizeFast {
		return draw.ApproxBiLinear
	}
	return draw.CatmullRom
}

// toRGBA views or converts the raw pixel data as an *image.RGBA. RGBA
// frames with a matching stride are wrapped without copying.
func toRGBA(frame *types.Frame) (*image.RGBA, error) {
	want := frame.Height * frame.Stride
	if len(frame.Data) < want {
		return nil, fmt.Errorf("frame data %d bytes, need %d", len(frame.Data), want)
	}

	switch frame.PixFmt {
	case types.PixFmtRGBA:
		return &image.RGBA{
			Pix:    frame.Data[:want],
			Stride: frame.Stride,
			Rect:   image.Rect(0, 0, frame.Width, frame.Height),
		}, nil
	case types.PixFmtBGRA:
		img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
		for y := 0; y < frame.Height; y++ {
			srcRow := frame.Data[y*frame.Stride:]
			dstRow := img.Pix[y*img.Stride:]
			for x := 0; x < frame.Width; x++ {
				off := x * 4
				dstRow[off] = srcRow[off+2]
				dstRow[off+1] = srcRow[off+1]
				dstRow[off+2] = srcRow[off]
				dstRow[off+3] = 0xFF
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unknown pixel format %d", frame.PixFmt)
	}
}
