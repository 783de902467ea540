package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// DescriptorSet is a table of resource bindings allocated from a
// DescriptorPoolManager. Every Set* call writes the descriptor immediately.
type DescriptorSet struct {
	device *Device
	pool   *DescriptorPoolManager
	layout *DescriptorSetLayout
	handle DescriptorSetHandle
	epoch  uint64
}

func (s *DescriptorSet) Handle() DescriptorSetHandle  { return s.handle }
func (s *DescriptorSet) Layout() *DescriptorSetLayout { return s.layout }

// IsValid reports false once the pool the set came from has been reset or
// destroyed.
func (s *DescriptorSet) IsValid() bool {
	return s != nil && !s.handle.IsNil() && s.pool != nil && s.epoch == s.pool.epoch
}

// SetUniformBuffer binds [offset, offset+size) of buf. A zero size binds the
// rest of the buffer.
func (s *DescriptorSet) SetUniformBuffer(binding uint32, buf *Buffer, offset, size uint64) error {
	return s.setBuffer(binding, buf, offset, size, DescriptorTypeUniformBuffer, DescriptorTypeUniformBufferDynamic)
}

func (s *DescriptorSet) SetStorageBuffer(binding uint32, buf *Buffer, offset, size uint64) error {
	return s.setBuffer(binding, buf, offset, size, DescriptorTypeStorageBuffer, DescriptorTypeStorageBufferDynamic)
}

// SetTexture binds tex as a sampled image read in the shader-read-only
// layout.
func (s *DescriptorSet) SetTexture(binding uint32, tex *Texture) error {
	if !tex.valid() {
		return s.fail("SetTexture", binding, ErrStaleHandle)
	}
	t, err := s.check(binding, DescriptorTypeSampledImage)
	if err != nil {
		return s.fail("SetTexture", binding, err)
	}
	return s.write("SetTexture", DescriptorWrite{
		Binding: binding,
		Type:    t,
		Texture: tex.handle,
		Layout:  LayoutShaderReadOnly,
	})
}

// SetStorageTexture binds tex as a storage image in the general layout.
func (s *DescriptorSet) SetStorageTexture(binding uint32, tex *Texture) error {
	if !tex.valid() {
		return s.fail("SetStorageTexture", binding, ErrStaleHandle)
	}
	t, err := s.check(binding, DescriptorTypeStorageImage)
	if err != nil {
		return s.fail("SetStorageTexture", binding, err)
	}
	return s.write("SetStorageTexture", DescriptorWrite{
		Binding: binding,
		Type:    t,
		Texture: tex.handle,
		Layout:  LayoutGeneral,
	})
}

func (s *DescriptorSet) SetSampler(binding uint32, sampler *Sampler) error {
	if sampler == nil || sampler.handle.IsNil() {
		return s.fail("SetSampler", binding, ErrStaleHandle)
	}
	t, err := s.check(binding, DescriptorTypeSampler)
	if err != nil {
		return s.fail("SetSampler", binding, err)
	}
	return s.write("SetSampler", DescriptorWrite{
		Binding: binding,
		Type:    t,
		Sampler: sampler.handle,
	})
}

func (s *DescriptorSet) SetCombinedTextureSampler(binding uint32, tex *Texture, sampler *Sampler) error {
	if !tex.valid() || sampler == nil || sampler.handle.IsNil() {
		return s.fail("SetCombinedTextureSampler", binding, ErrStaleHandle)
	}
	t, err := s.check(binding, DescriptorTypeCombinedImageSampler)
	if err != nil {
		return s.fail("SetCombinedTextureSampler", binding, err)
	}
	return s.write("SetCombinedTextureSampler", DescriptorWrite{
		Binding: binding,
		Type:    t,
		Texture: tex.handle,
		Layout:  LayoutShaderReadOnly,
		Sampler: sampler.handle,
	})
}

func (s *DescriptorSet) setBuffer(binding uint32, buf *Buffer, offset, size uint64, accepted ...DescriptorType) error {
	op := "SetUniformBuffer"
	if accepted[0] == DescriptorTypeStorageBuffer {
		op = "SetStorageBuffer"
	}
	if !buf.valid() {
		return s.fail(op, binding, ErrStaleHandle)
	}
	if offset >= buf.Size() || size > buf.Size()-offset {
		return s.fail(op, binding, ErrOutOfBounds)
	}
	if size == 0 {
		size = buf.Size() - offset
	}
	t, err := s.check(binding, accepted...)
	if err != nil {
		return s.fail(op, binding, err)
	}
	return s.write(op, DescriptorWrite{
		Binding: binding,
		Type:    t,
		Buffer:  buf.handle,
		Offset:  offset,
		Range:   size,
	})
}

// check resolves the binding slot and makes sure its type is one of
// accepted.
func (s *DescriptorSet) check(binding uint32, accepted ...DescriptorType) (DescriptorType, error) {
	if !s.IsValid() {
		return 0, fmt.Errorf("descriptor set was invalidated by a pool reset: %w", ErrStaleHandle)
	}
	b, ok := s.layout.Binding(binding)
	if !ok {
		return 0, fmt.Errorf("layout has no binding %d", binding)
	}
	for _, t := range accepted {
		if b.Type == t {
			return t, nil
		}
	}
	return 0, fmt.Errorf("binding %d is %s", binding, b.Type)
}

func (s *DescriptorSet) write(op string, w DescriptorWrite) error {
	if err := s.device.driver.UpdateDescriptorSet(s.handle, []DescriptorWrite{w}); err != nil {
		return s.fail(op, w.Binding, err)
	}
	return nil
}

func (s *DescriptorSet) fail(op string, binding uint32, err error) error {
	err = fmt.Errorf("%s(binding %d): %w", op, binding, err)
	core.LogError("%s", err)
	return err
}
