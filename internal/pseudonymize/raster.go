package pseudonymize

import "image"

// packSamples flattens an RGBA label raster into raw interleaved sample
// bytes matching the original label IFD's SamplesPerPixel, so the result
// can be handed directly to stripcodec.Codec.Encode.
func packSamples(img *image.RGBA, samples int) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 0, w*h*samples)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r8, g8, b8, a8 := byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8)
			switch samples {
			case 1:
				gray := (uint16(r8) + uint16(g8) + uint16(b8)) / 3
				out = append(out, byte(gray))
			case 3:
				out = append(out, r8, g8, b8)
			default:
				out = append(out, r8, g8, b8, a8)
			}
		}
	}
	return out
}
