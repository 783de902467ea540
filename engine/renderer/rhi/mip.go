package rhi

import (
	"image"
	"math/bits"

	xdraw "golang.org/x/image/draw"
)

// MipLevelCount is the length of a full mip chain for a width x height
// image.
func MipLevelCount(width, height uint32) uint32 {
	return uint32(bits.Len32(max(width, height, 1)))
}

// GenerateMipChain downsamples img into levels RGBA images, level 0 being
// img itself at full size. Each level halves the previous one, never going
// below 1x1. The Pix slices are ready for UpdateTexture on an RGBA8
// texture.
func GenerateMipChain(img image.Image, levels uint32) []*image.RGBA {
	b := img.Bounds()
	if levels == 0 {
		levels = MipLevelCount(uint32(b.Dx()), uint32(b.Dy()))
	}

	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(base, base.Bounds(), img, b.Min, xdraw.Src)

	chain := make([]*image.RGBA, 0, levels)
	chain = append(chain, base)
	for i := uint32(1); i < levels; i++ {
		prev := chain[i-1]
		w := max(prev.Bounds().Dx()/2, 1)
		h := max(prev.Bounds().Dy()/2, 1)
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(next, next.Bounds(), prev, prev.Bounds(), xdraw.Src, nil)
		chain = append(chain, next)
	}
	return chain
}

// UploadMipChain writes every level of chain into the given array layer of
// tex, which must be an RGBA8 texture with at least len(chain) mip levels.
func (d *Device) UploadMipChain(tex *Texture, chain []*image.RGBA, arrayLayer uint32) error {
	for level, img := range chain {
		if err := d.UpdateTexture(tex, packedPixels(img), uint32(level), arrayLayer); err != nil {
			return err
		}
	}
	return nil
}

// packedPixels returns img's pixels without row padding.
func packedPixels(img *image.RGBA) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if img.Stride == w*4 {
		return img.Pix[:w*h*4]
	}
	out := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out = append(out, row...)
	}
	return out
}
