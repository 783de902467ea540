package rhi

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// descriptorCatalog is the set of descriptor types every pool reserves room
// for.
var descriptorCatalog = [...]DescriptorType{
	DescriptorTypeSampler,
	DescriptorTypeCombinedImageSampler,
	DescriptorTypeSampledImage,
	DescriptorTypeStorageImage,
	DescriptorTypeUniformTexelBuffer,
	DescriptorTypeStorageTexelBuffer,
	DescriptorTypeUniformBuffer,
	DescriptorTypeStorageBuffer,
	DescriptorTypeUniformBufferDynamic,
	DescriptorTypeStorageBufferDynamic,
	DescriptorTypeInputAttachment,
}

// DescriptorPoolSizes returns the quota of every catalog type for a pool
// that can hold maxSets sets.
func DescriptorPoolSizes(maxSets uint32) []DescriptorPoolSize {
	sizes := make([]DescriptorPoolSize, len(descriptorCatalog))
	for i, t := range descriptorCatalog {
		sizes[i] = DescriptorPoolSize{Type: t, Count: maxSets}
	}
	return sizes
}

// DescriptorPoolManager hands out descriptor sets from a single fixed-size
// pool. When the pool runs dry it is reset and the allocation retried once,
// which invalidates every set handed out before. Callers must not let that
// happen while any of those sets is still in use by the GPU.
type DescriptorPoolManager struct {
	device  *Device
	handle  DescriptorPoolHandle
	maxSets uint32
	epoch   uint64
	resets  int
}

// Initialize creates the pool sized for maxSets sets of every catalog type.
func (m *DescriptorPoolManager) Initialize(device *Device, maxSets uint32) error {
	if maxSets == 0 {
		err := fmt.Errorf("descriptor pool needs at least one set")
		core.LogError("%s", err)
		return err
	}
	h, err := device.driver.CreateDescriptorPool(DescriptorPoolSizes(maxSets), maxSets)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor pool: %w", err)
		core.LogError("%s", err)
		return err
	}
	m.device = device
	m.handle = h
	m.maxSets = maxSets
	m.epoch = 1
	m.resets = 0
	return nil
}

func (m *DescriptorPoolManager) MaxSets() uint32 { return m.maxSets }

// ResetCount is how many times the pool has been reset, explicitly or by
// exhaustion recovery.
func (m *DescriptorPoolManager) ResetCount() int { return m.resets }

// Epoch changes on every reset. Sets from an older epoch are stale.
func (m *DescriptorPoolManager) Epoch() uint64 { return m.epoch }

func (m *DescriptorPoolManager) AllocateDescriptorSet(layout *DescriptorSetLayout) (*DescriptorSet, error) {
	if m.handle.IsNil() {
		err := fmt.Errorf("descriptor pool is not initialized")
		core.LogError("%s", err)
		return nil, err
	}
	if layout == nil || layout.handle.IsNil() {
		err := fmt.Errorf("failed to allocate descriptor set: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return nil, err
	}

	h, err := m.device.driver.AllocateDescriptorSet(m.handle, layout.handle)
	if errors.Is(err, ErrOutOfPoolMemory) || errors.Is(err, ErrFragmentedPool) {
		core.LogWarn("descriptor pool exhausted (%v), resetting and retrying", err)
		if rerr := m.Reset(); rerr != nil {
			return nil, rerr
		}
		h, err = m.device.driver.AllocateDescriptorSet(m.handle, layout.handle)
	}
	if err != nil {
		err = fmt.Errorf("failed to allocate descriptor set: %w", err)
		core.LogError("%s", err)
		return nil, err
	}

	return &DescriptorSet{
		device: m.device,
		pool:   m,
		layout: layout,
		handle: h,
		epoch:  m.epoch,
	}, nil
}

// Reset returns every set to the pool.
func (m *DescriptorPoolManager) Reset() error {
	if m.handle.IsNil() {
		return nil
	}
	if err := m.device.driver.ResetDescriptorPool(m.handle); err != nil {
		err = fmt.Errorf("failed to reset descriptor pool: %w", err)
		core.LogError("%s", err)
		return err
	}
	m.epoch++
	m.resets++
	return nil
}

func (m *DescriptorPoolManager) Destroy() {
	if m.handle.IsNil() {
		return
	}
	m.device.driver.DestroyDescriptorPool(m.handle)
	m.handle = DescriptorPoolHandle{}
	m.epoch++
}
