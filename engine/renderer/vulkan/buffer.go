package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanBuffer struct {
	Handle   vk.Buffer
	Memory   vk.DeviceMemory
	Size     uint64
	Mapped   unsafe.Pointer
	Coherent bool
}

// memoryProperties lists the property sets to try for a memory class, most
// preferred first.
func memoryProperties(usage rhi.MemoryUsage) []vk.MemoryPropertyFlagBits {
	switch usage {
	case rhi.MemoryCpuToGpu:
		return []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
			vk.MemoryPropertyHostVisibleBit,
		}
	case rhi.MemoryGpuToCpu:
		return []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit,
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
			vk.MemoryPropertyHostVisibleBit,
		}
	}
	return []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}
}

// allocate picks a memory type for the requirements and allocates from it.
// It returns the property flags of the chosen type.
func (d *Driver) allocate(reqs vk.MemoryRequirements, candidates []vk.MemoryPropertyFlagBits) (vk.DeviceMemory, vk.MemoryPropertyFlagBits, error) {
	for _, props := range candidates {
		index := d.context.FindMemoryIndex(reqs.MemoryTypeBits, uint32(props))
		if index < 0 {
			continue
		}
		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  reqs.Size,
			MemoryTypeIndex: uint32(index),
		}
		var memory vk.DeviceMemory
		if res := vk.AllocateMemory(d.logicalDevice(), &allocInfo, d.context.Allocator, &memory); res != vk.Success {
			return nil, 0, resultError("vkAllocateMemory", res)
		}
		return memory, props, nil
	}
	return nil, 0, fmt.Errorf("no memory type matches filter %b", reqs.MemoryTypeBits)
}

func (d *Driver) CreateBuffer(desc *rhi.BufferDesc, memory rhi.MemoryUsage) (rhi.BufferHandle, rhi.BufferAllocation, error) {
	device := d.logicalDevice()
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	buf := &VulkanBuffer{Size: desc.Size}
	if res := vk.CreateBuffer(device, &bufferInfo, d.context.Allocator, &buf.Handle); res != vk.Success {
		err := fmt.Errorf("buffer %q: %w", desc.Name, resultError("vkCreateBuffer", res))
		core.LogError("%s", err)
		return rhi.BufferHandle{}, rhi.BufferAllocation{}, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buf.Handle, &reqs)
	reqs.Deref()

	mem, props, err := d.allocate(reqs, memoryProperties(memory))
	if err != nil {
		vk.DestroyBuffer(device, buf.Handle, d.context.Allocator)
		err = fmt.Errorf("buffer %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.BufferHandle{}, rhi.BufferAllocation{}, err
	}
	buf.Memory = mem
	buf.Coherent = props&vk.MemoryPropertyHostCoherentBit != 0

	if res := vk.BindBufferMemory(device, buf.Handle, buf.Memory, 0); res != vk.Success {
		d.releaseBuffer(buf)
		err := fmt.Errorf("buffer %q: %w", desc.Name, resultError("vkBindBufferMemory", res))
		core.LogError("%s", err)
		return rhi.BufferHandle{}, rhi.BufferAllocation{}, err
	}

	alloc := rhi.BufferAllocation{Coherent: buf.Coherent}
	if memory.HostVisible() {
		// Host-visible buffers stay mapped for their whole life.
		if res := vk.MapMemory(device, buf.Memory, 0, vk.DeviceSize(desc.Size), 0, &buf.Mapped); res != vk.Success {
			d.releaseBuffer(buf)
			err := fmt.Errorf("buffer %q: %w", desc.Name, resultError("vkMapMemory", res))
			core.LogError("%s", err)
			return rhi.BufferHandle{}, rhi.BufferAllocation{}, err
		}
		alloc.Mapped = unsafe.Slice((*byte)(buf.Mapped), desc.Size)
	}
	return d.buffers.Insert(buf), alloc, nil
}

func (d *Driver) releaseBuffer(buf *VulkanBuffer) {
	device := d.logicalDevice()
	if buf.Mapped != nil {
		vk.UnmapMemory(device, buf.Memory)
		buf.Mapped = nil
	}
	if buf.Handle != nil {
		vk.DestroyBuffer(device, buf.Handle, d.context.Allocator)
		buf.Handle = nil
	}
	if buf.Memory != nil {
		vk.FreeMemory(device, buf.Memory, d.context.Allocator)
		buf.Memory = nil
	}
}

func (d *Driver) DestroyBuffer(h rhi.BufferHandle) {
	if buf, ok := d.buffers.Remove(h); ok {
		d.releaseBuffer(buf)
	}
}

// mappedRange rounds a flush range out to the device's atom size.
func (d *Driver) mappedRange(buf *VulkanBuffer, offset, size uint64) vk.MappedMemoryRange {
	atom := uint64(d.context.Device.Properties.Limits.NonCoherentAtomSize)
	if atom == 0 {
		atom = 1
	}
	start := offset / atom * atom
	stop := (offset + size + atom - 1) / atom * atom
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: buf.Memory,
		Offset: vk.DeviceSize(start),
		Size:   vk.DeviceSize(stop - start),
	}
	if stop >= buf.Size {
		r.Size = vk.DeviceSize(vk.WholeSize)
	}
	return r
}

func (d *Driver) FlushBuffer(h rhi.BufferHandle, offset, size uint64) error {
	buf, ok := d.buffers.Get(h)
	if !ok {
		return fmt.Errorf("flush buffer %s: %w", h, rhi.ErrStaleHandle)
	}
	if buf.Coherent || buf.Mapped == nil {
		return nil
	}
	if res := vk.FlushMappedMemoryRanges(d.logicalDevice(), 1, []vk.MappedMemoryRange{d.mappedRange(buf, offset, size)}); res != vk.Success {
		return resultError("vkFlushMappedMemoryRanges", res)
	}
	return nil
}

func (d *Driver) InvalidateBuffer(h rhi.BufferHandle, offset, size uint64) error {
	buf, ok := d.buffers.Get(h)
	if !ok {
		return fmt.Errorf("invalidate buffer %s: %w", h, rhi.ErrStaleHandle)
	}
	if buf.Coherent || buf.Mapped == nil {
		return nil
	}
	if res := vk.InvalidateMappedMemoryRanges(d.logicalDevice(), 1, []vk.MappedMemoryRange{d.mappedRange(buf, offset, size)}); res != vk.Success {
		return resultError("vkInvalidateMappedMemoryRanges", res)
	}
	return nil
}
