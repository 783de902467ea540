package rhi_test

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
)

func TestMipLevelCount(t *testing.T) {
	for _, c := range []struct{ w, h, want uint32 }{
		{1, 1, 1},
		{2, 1, 2},
		{256, 256, 9},
		{300, 17, 9},
		{0, 0, 1},
	} {
		if have := rhi.MipLevelCount(c.w, c.h); have != c.want {
			t.Errorf("MipLevelCount(%d, %d)\nhave %d\nwant %d", c.w, c.h, have, c.want)
		}
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestGenerateMipChain(t *testing.T) {
	chain := rhi.GenerateMipChain(solid(8, 2, color.RGBA{R: 200, G: 100, B: 50, A: 255}), 0)
	if len(chain) != 4 {
		t.Fatalf("levels\nhave %d\nwant 4", len(chain))
	}
	for i, want := range []image.Point{{8, 2}, {4, 1}, {2, 1}, {1, 1}} {
		if have := chain[i].Bounds().Size(); have != want {
			t.Errorf("level %d size\nhave %v\nwant %v", i, have, want)
		}
	}
	// A solid image stays solid at every level, give or take rounding.
	have := chain[3].RGBAAt(0, 0)
	if !near(have.R, 200) || !near(have.G, 100) || !near(have.B, 50) || !near(have.A, 255) {
		t.Errorf("last level texel\nhave %v\nwant {200 100 50 255}", have)
	}
}

func near(a, b uint8) bool {
	return a-b <= 1 || b-a <= 1
}

func TestUploadMipChain(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	chain := rhi.GenerateMipChain(solid(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255}), 3)
	tex, err := dev.CreateTexture(rhi.TextureDesc{
		Width:     4,
		Height:    4,
		MipLevels: 3,
		Format:    rhi.FormatRGBA8Unorm,
		Usage:     rhi.TextureUsageSampled,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.UploadMipChain(tex, chain, 0); err != nil {
		t.Fatalf("UploadMipChain: %v", err)
	}
	if have, want := drv.TextureContents(tex.Handle(), 2, 0), chain[2].Pix[:4]; !bytes.Equal(have, want) {
		t.Errorf("mip 2\nhave %v\nwant %v", have, want)
	}
	if tex.CurrentLayout() != rhi.LayoutShaderReadOnly {
		t.Errorf("CurrentLayout() after upload\nhave %v\nwant %v", tex.CurrentLayout(), rhi.LayoutShaderReadOnly)
	}
}
