package rhi_test

import (
	"errors"
	"math"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
)

func newLayout(t *testing.T, dev *rhi.Device) *rhi.DescriptorSetLayout {
	t.Helper()
	layout, err := dev.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Name: "material",
		Bindings: []rhi.DescriptorSetLayoutBinding{
			{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Stages: rhi.ShaderStageAllGraphics},
			{Binding: 1, Type: rhi.DescriptorTypeCombinedImageSampler, Stages: rhi.ShaderStageFragment},
			{Binding: 2, Type: rhi.DescriptorTypeStorageBuffer, Stages: rhi.ShaderStageFragment},
			{Binding: 3, Type: rhi.DescriptorTypeSampledImage, Stages: rhi.ShaderStageFragment},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(layout.Destroy)
	return layout
}

func TestDescriptorPoolSizesCoverCatalog(t *testing.T) {
	sizes := rhi.DescriptorPoolSizes(32)
	if len(sizes) != 11 {
		t.Fatalf("len(DescriptorPoolSizes)\nhave %d\nwant 11", len(sizes))
	}
	seen := map[rhi.DescriptorType]bool{}
	for _, s := range sizes {
		if s.Count != 32 {
			t.Errorf("%s count\nhave %d\nwant 32", s.Type, s.Count)
		}
		seen[s.Type] = true
	}
	if len(seen) != 11 {
		t.Errorf("distinct types\nhave %d\nwant 11", len(seen))
	}
}

func TestDescriptorPoolResetsOnceWhenExhausted(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	layout := newLayout(t, dev)
	pool := dev.DescriptorPool()

	var sets []*rhi.DescriptorSet
	for i := uint32(0); i < pool.MaxSets(); i++ {
		set, err := dev.CreateDescriptorSet(layout)
		if err != nil {
			t.Fatalf("CreateDescriptorSet #%d: %v", i, err)
		}
		sets = append(sets, set)
	}
	if pool.ResetCount() != 0 {
		t.Fatalf("ResetCount() before exhaustion\nhave %d\nwant 0", pool.ResetCount())
	}

	next, err := dev.CreateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("CreateDescriptorSet on a full pool: %v", err)
	}
	if pool.ResetCount() != 1 || drv.Calls("ResetDescriptorPool") != 1 {
		t.Errorf("resets\nhave %d (driver %d)\nwant 1", pool.ResetCount(), drv.Calls("ResetDescriptorPool"))
	}
	if !next.IsValid() {
		t.Errorf("set allocated after reset is not valid")
	}
	for i, s := range sets {
		if s.IsValid() {
			t.Errorf("set #%d survived the pool reset", i)
		}
	}

	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 64, Usage: rhi.BufferUsageUniform, Type: rhi.BufferTypeDynamic})
	if err != nil {
		t.Fatal(err)
	}
	updates := drv.Calls("UpdateDescriptorSet")
	if err := sets[0].SetUniformBuffer(0, buf, 0, 0); !errors.Is(err, rhi.ErrStaleHandle) {
		t.Errorf("SetUniformBuffer on stale set\nhave %v\nwant %v", err, rhi.ErrStaleHandle)
	}
	if drv.Calls("UpdateDescriptorSet") != updates {
		t.Errorf("stale set reached the driver")
	}
}

func TestDescriptorPoolPermanentFailure(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	layout := newLayout(t, dev)
	drv.FailNext("AllocateDescriptorSet", rhi.ErrOutOfPoolMemory)
	drv.FailNext("AllocateDescriptorSet", rhi.ErrOutOfPoolMemory)

	set, err := dev.CreateDescriptorSet(layout)
	if set != nil || !errors.Is(err, rhi.ErrOutOfPoolMemory) {
		t.Errorf("CreateDescriptorSet\nhave %v, %v\nwant nil, %v", set, err, rhi.ErrOutOfPoolMemory)
	}
	if have := dev.DescriptorPool().ResetCount(); have != 1 {
		t.Errorf("ResetCount()\nhave %d\nwant 1", have)
	}
	if have := drv.Calls("AllocateDescriptorSet"); have != 2 {
		t.Errorf("allocation attempts\nhave %d\nwant 2", have)
	}
}

func TestDescriptorPoolOtherErrorsDoNotReset(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	layout := newLayout(t, dev)
	drv.FailNext("AllocateDescriptorSet", rhi.ErrDeviceLost)

	if _, err := dev.CreateDescriptorSet(layout); !errors.Is(err, rhi.ErrDeviceLost) {
		t.Errorf("CreateDescriptorSet\nhave %v\nwant %v", err, rhi.ErrDeviceLost)
	}
	if have := drv.Calls("ResetDescriptorPool"); have != 0 {
		t.Errorf("ResetDescriptorPool calls\nhave %d\nwant 0", have)
	}
}

func TestDescriptorSetWrites(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	layout := newLayout(t, dev)
	set, err := dev.CreateDescriptorSet(layout)
	if err != nil {
		t.Fatal(err)
	}
	ubo, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 256, Usage: rhi.BufferUsageUniform, Type: rhi.BufferTypeDynamic})
	ssbo, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 128, Usage: rhi.BufferUsageStorage})
	tex, _ := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	smp, err := dev.CreateSampler(rhi.SamplerDesc{})
	if err != nil {
		t.Fatal(err)
	}

	if err := set.SetUniformBuffer(0, ubo, 64, 0); err != nil {
		t.Fatalf("SetUniformBuffer: %v", err)
	}
	if err := set.SetCombinedTextureSampler(1, tex, smp); err != nil {
		t.Fatalf("SetCombinedTextureSampler: %v", err)
	}
	if err := set.SetStorageBuffer(2, ssbo, 0, 32); err != nil {
		t.Fatalf("SetStorageBuffer: %v", err)
	}
	if err := set.SetTexture(3, tex); err != nil {
		t.Fatalf("SetTexture: %v", err)
	}

	writes := drv.DescriptorWrites(set.Handle())
	if w := writes[0]; w.Buffer != ubo.Handle() || w.Offset != 64 || w.Range != 192 {
		t.Errorf("binding 0\nhave %+v\nwant offset 64 range 192", w)
	}
	if w := writes[1]; w.Texture != tex.Handle() || w.Sampler != smp.Handle() || w.Layout != rhi.LayoutShaderReadOnly {
		t.Errorf("binding 1\nhave %+v\nwant texture+sampler in ShaderReadOnly", w)
	}
	if w := writes[2]; w.Type != rhi.DescriptorTypeStorageBuffer || w.Range != 32 {
		t.Errorf("binding 2\nhave %+v\nwant storage buffer range 32", w)
	}
	if w := writes[3]; w.Type != rhi.DescriptorTypeSampledImage {
		t.Errorf("binding 3\nhave %+v\nwant sampled image", w)
	}

	for name, err := range map[string]error{
		"wrong type":       set.SetTexture(0, tex),
		"missing binding":  set.SetUniformBuffer(9, ubo, 0, 0),
		"range past end":   set.SetUniformBuffer(0, ubo, 200, 100),
		"range wraps":      set.SetUniformBuffer(0, ubo, 8, math.MaxUint64),
		"offset past end":  set.SetStorageBuffer(2, ssbo, 128, 0),
		"sampler for ubo":  set.SetSampler(0, smp),
		"storage as image": set.SetStorageTexture(3, tex),
	} {
		if err == nil {
			t.Errorf("%s: have nil error", name)
		}
	}
	if w := drv.DescriptorWrites(set.Handle())[0]; w.Offset != 64 || w.Range != 192 {
		t.Errorf("binding 0 after rejected writes\nhave offset %d range %d\nwant 64 192", w.Offset, w.Range)
	}
}
