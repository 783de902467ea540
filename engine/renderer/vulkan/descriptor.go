package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanDescriptorPool remembers the sets it handed out; a reset frees them
// natively, so their handles must go as well.
type VulkanDescriptorPool struct {
	Handle vk.DescriptorPool
	Sets   []rhi.DescriptorSetHandle
}

type VulkanDescriptorSet struct {
	Handle vk.DescriptorSet
	Pool   rhi.DescriptorPoolHandle
}

func (d *Driver) CreateDescriptorSetLayout(desc *rhi.DescriptorSetLayoutDesc) (rhi.DescriptorSetLayoutHandle, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, b := range desc.Bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      toVkShaderStages(b.Stages),
		}
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.logicalDevice(), &layoutInfo, d.context.Allocator, &layout); res != vk.Success {
		err := fmt.Errorf("failed to create descriptor set layout %q: %w", desc.Name, resultError("vkCreateDescriptorSetLayout", res))
		core.LogError("%s", err)
		return rhi.DescriptorSetLayoutHandle{}, err
	}
	return d.setLayouts.Insert(layout), nil
}

func (d *Driver) DestroyDescriptorSetLayout(h rhi.DescriptorSetLayoutHandle) {
	if layout, ok := d.setLayouts.Remove(h); ok {
		vk.DestroyDescriptorSetLayout(d.logicalDevice(), layout, d.context.Allocator)
	}
}

func (d *Driver) CreateDescriptorPool(sizes []rhi.DescriptorPoolSize, maxSets uint32) (rhi.DescriptorPoolHandle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		})
	}

	// Sets are only ever released all at once through a reset.
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	pool := &VulkanDescriptorPool{}
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		if res := vk.CreateDescriptorPool(d.logicalDevice(), &poolInfo, d.context.Allocator, &pool.Handle); res != vk.Success {
			return resultError("vkCreateDescriptorPool", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return rhi.DescriptorPoolHandle{}, err
	}
	return d.pools.Insert(pool), nil
}

// AllocateDescriptorSet leaves logging to the caller: running out of pool
// memory is expected and answered with a reset.
func (d *Driver) AllocateDescriptorSet(h rhi.DescriptorPoolHandle, layout rhi.DescriptorSetLayoutHandle) (rhi.DescriptorSetHandle, error) {
	pool, ok := d.pools.Get(h)
	if !ok {
		return rhi.DescriptorSetHandle{}, fmt.Errorf("allocate descriptor set from pool %s: %w", h, rhi.ErrStaleHandle)
	}
	setLayout, ok := d.setLayouts.Get(layout)
	if !ok {
		return rhi.DescriptorSetHandle{}, fmt.Errorf("allocate descriptor set with layout %s: %w", layout, rhi.ErrStaleHandle)
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
	}

	var set vk.DescriptorSet
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		return resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logicalDevice(), &allocInfo, &set))
	})
	if err != nil {
		return rhi.DescriptorSetHandle{}, err
	}

	sh := d.sets.Insert(&VulkanDescriptorSet{Handle: set, Pool: h})
	pool.Sets = append(pool.Sets, sh)
	return sh, nil
}

func (d *Driver) ResetDescriptorPool(h rhi.DescriptorPoolHandle) error {
	pool, ok := d.pools.Get(h)
	if !ok {
		return fmt.Errorf("reset descriptor pool %s: %w", h, rhi.ErrStaleHandle)
	}
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		return resultError("vkResetDescriptorPool", vk.ResetDescriptorPool(d.logicalDevice(), pool.Handle, 0))
	})
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	for _, s := range pool.Sets {
		d.sets.Remove(s)
	}
	pool.Sets = nil
	return nil
}

func (d *Driver) DestroyDescriptorPool(h rhi.DescriptorPoolHandle) {
	pool, ok := d.pools.Remove(h)
	if !ok {
		return
	}
	for _, s := range pool.Sets {
		d.sets.Remove(s)
	}
	pool.Sets = nil
	d.locks.SafeCall(DescriptorPoolManagement, func() error {
		vk.DestroyDescriptorPool(d.logicalDevice(), pool.Handle, d.context.Allocator)
		return nil
	})
}

func isImageDescriptor(t rhi.DescriptorType) bool {
	switch t {
	case rhi.DescriptorTypeSampler, rhi.DescriptorTypeCombinedImageSampler,
		rhi.DescriptorTypeSampledImage, rhi.DescriptorTypeStorageImage:
		return true
	}
	return false
}

func (d *Driver) UpdateDescriptorSet(h rhi.DescriptorSetHandle, writes []rhi.DescriptorWrite) error {
	set, ok := d.sets.Get(h)
	if !ok {
		return fmt.Errorf("update descriptor set %s: %w", h, rhi.ErrStaleHandle)
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  toVkDescriptorType(w.Type),
			DescriptorCount: 1,
		}

		if isImageDescriptor(w.Type) {
			info := vk.DescriptorImageInfo{ImageLayout: toVkImageLayout(w.Layout)}
			if !w.Texture.IsNil() {
				img, ok := d.images.Get(w.Texture)
				if !ok {
					return fmt.Errorf("descriptor binding %d texture %s: %w", w.Binding, w.Texture, rhi.ErrStaleHandle)
				}
				info.ImageView = img.View
			}
			if !w.Sampler.IsNil() {
				sampler, ok := d.samplers.Get(w.Sampler)
				if !ok {
					return fmt.Errorf("descriptor binding %d sampler %s: %w", w.Binding, w.Sampler, rhi.ErrStaleHandle)
				}
				info.Sampler = sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		} else {
			buf, ok := d.buffers.Get(w.Buffer)
			if !ok {
				return fmt.Errorf("descriptor binding %d buffer %s: %w", w.Binding, w.Buffer, rhi.ErrStaleHandle)
			}
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.Handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		}
		vkWrites = append(vkWrites, write)
	}

	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(d.logicalDevice(), uint32(len(vkWrites)), vkWrites, 0, nil)
	}
	return nil
}

func (d *Driver) CmdBindDescriptorSet(cmd rhi.CommandBufferHandle, pipeline rhi.PipelineHandle, index uint32, set rhi.DescriptorSetHandle) {
	cb, ok := d.recording(cmd, "bind descriptor set")
	if !ok {
		return
	}
	p, ok := d.pipelines.Get(pipeline)
	if !ok {
		core.LogError("bind descriptor set: pipeline %s: %v", pipeline, rhi.ErrStaleHandle)
		return
	}
	s, ok := d.sets.Get(set)
	if !ok {
		core.LogError("bind descriptor set: set %s: %v", set, rhi.ErrStaleHandle)
		return
	}
	vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, p.PipelineLayout, index, 1,
		[]vk.DescriptorSet{s.Handle}, 0, nil)
}
