package hwdec

import "fmt"

// ColorOrder selects the channel order of converted output.
type ColorOrder string

const (
	OrderRGB ColorOrder = "rgb"
	OrderBGR ColorOrder = "bgr"
)

// ConvertNV12 converts an NV12 surface to packed 8-bit RGB or BGR
// using BT.601 coefficients. fullRange selects full-range (0-255)
// versus limited-range (16-235) luma.
func ConvertNV12(nv12 []byte, width, height int, fullRange bool, order ColorOrder) ([]byte, error) {
	if order != OrderRGB && order != OrderBGR {
		return nil, fmt.Errorf("hwdec: unknown color order %q", order)
	}
	lumaSize := width * height
	need := lumaSize * 3 / 2
	if len(nv12) < need {
		return nil, fmt.Errorf("hwdec: nv12 buffer %d bytes, need %d for %dx%d", len(nv12), need, width, height)
	}

	out := make([]byte, lumaSize*3)
	luma := nv12[:lumaSize]
	chroma := nv12[lumaSize:need]

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			yv := float64(luma[y*width+x])
			cIdx := (y/2)*width + (x/2)*2
			cb := float64(chroma[cIdx]) - 128
			cr := float64(chroma[cIdx+1]) - 128

			if !fullRange {
				yv = (yv - 16) * 255 / 219
			}

			r := clamp255(yv + 1.402*cr)
			g := clamp255(yv - 0.344136*cb - 0.714136*cr)
			b := clamp255(yv + 1.772*cb)

			o := (y*width + x) * 3
			if order == OrderRGB {
				out[o], out[o+1], out[o+2] = r, g, b
			} else {
				out[o], out[o+1], out[o+2] = b, g, r
			}
		}
	}
	return out, nil
}

func clamp255(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}
