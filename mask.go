package swapsort

import (
	"errors"
	"fmt"
	"image"
)

var ErrMalformedMask = errors.New("swapsort: malformed mask")

// FillMask pours the opaque pixels of src, in raster order, into the white
// positions of mask, also in raster order. Every mask pixel must be
// fully transparent black (0,0,0,0) or opaque white, and the number of white
// pixels must equal the number of opaque pixels of src.
//
// The result has the mask's bounds; non-white positions stay transparent.
// Sorting the result keeps the mask's silhouette, since transparent pixels
// never move.
func FillMask(src, mask *image.NRGBA) (*image.NRGBA, error) {
	mb := mask.Bounds()
	var slots []int // Offsets of white mask pixels in the result
	out := image.NewNRGBA(image.Rect(0, 0, mb.Dx(), mb.Dy()))
	for y := mb.Min.Y; y < mb.Max.Y; y++ {
		for x := mb.Min.X; x < mb.Max.X; x++ {
			off := mask.PixOffset(x, y)
			px := mask.Pix[off : off+4 : off+4]
			switch {
			case px[0] == 255 && px[1] == 255 && px[2] == 255 && px[3] == 255:
				slots = append(slots, out.PixOffset(x-mb.Min.X, y-mb.Min.Y))
			case px[0] == 0 && px[1] == 0 && px[2] == 0 && px[3] == 0:
			default:
				return nil, fmt.Errorf("%w: pixel (%d,%d) is %v, want transparent or white",
					ErrMalformedMask, x, y, px)
			}
		}
	}

	sb := src.Bounds()
	next := 0
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			off := src.PixOffset(x, y)
			px := src.Pix[off : off+4 : off+4]
			if px[3] == 0 {
				continue
			}
			if next < len(slots) {
				copy(out.Pix[slots[next]:slots[next]+4], px)
			}
			next++
		}
	}
	if next != len(slots) {
		return nil, fmt.Errorf("%w: %d white pixels for %d opaque pixels", ErrMalformedMask, len(slots), next)
	}
	return out, nil
}
