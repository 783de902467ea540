package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanFence caches the last signal state it observed so that waiting on
// an already signaled fence never reaches the driver.
type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func (d *Driver) CreateFence(signaled bool) (rhi.FenceHandle, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: signaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	if res := vk.CreateFence(d.logicalDevice(), &fenceCreateInfo, d.context.Allocator, &fence.Handle); res != vk.Success {
		err := resultError("vkCreateFence", res)
		core.LogError("%s", err)
		return rhi.FenceHandle{}, err
	}
	return d.fences.Insert(fence), nil
}

func (d *Driver) DestroyFence(h rhi.FenceHandle) {
	if vf, ok := d.fences.Remove(h); ok && vf.Handle != vk.NullFence {
		vk.DestroyFence(d.logicalDevice(), vf.Handle, d.context.Allocator)
	}
}

func (d *Driver) WaitFence(h rhi.FenceHandle, timeout time.Duration) error {
	vf, ok := d.fences.Get(h)
	if !ok {
		return fmt.Errorf("wait fence %s: %w", h, rhi.ErrStaleHandle)
	}
	// If already signaled, do not wait.
	if vf.IsSignaled {
		return nil
	}

	result := vk.WaitForFences(d.logicalDevice(), 1, []vk.Fence{vf.Handle}, vk.True, timeoutNanos(timeout))
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("fence %s wait timed out after %s", h, timeout)
	default:
		core.LogError("fence %s wait failed: %s", h, VulkanResultString(result, true))
	}
	return resultError("vkWaitForFences", result)
}

func (d *Driver) ResetFence(h rhi.FenceHandle) error {
	vf, ok := d.fences.Get(h)
	if !ok {
		return fmt.Errorf("reset fence %s: %w", h, rhi.ErrStaleHandle)
	}
	if res := vk.ResetFences(d.logicalDevice(), 1, []vk.Fence{vf.Handle}); res != vk.Success {
		err := resultError("vkResetFences", res)
		core.LogError("%s", err)
		return err
	}
	vf.IsSignaled = false
	return nil
}

func (d *Driver) FenceSignaled(h rhi.FenceHandle) (bool, error) {
	vf, ok := d.fences.Get(h)
	if !ok {
		return false, fmt.Errorf("fence status %s: %w", h, rhi.ErrStaleHandle)
	}
	if vf.IsSignaled {
		return true, nil
	}
	switch res := vk.GetFenceStatus(d.logicalDevice(), vf.Handle); res {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError("vkGetFenceStatus", res)
	}
}

func (d *Driver) CreateSemaphore() (rhi.SemaphoreHandle, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(d.logicalDevice(), &semaphoreCreateInfo, d.context.Allocator, &sem); res != vk.Success {
		err := resultError("vkCreateSemaphore", res)
		core.LogError("%s", err)
		return rhi.SemaphoreHandle{}, err
	}
	return d.semaphores.Insert(sem), nil
}

func (d *Driver) DestroySemaphore(h rhi.SemaphoreHandle) {
	if sem, ok := d.semaphores.Remove(h); ok && sem != vk.NullSemaphore {
		vk.DestroySemaphore(d.logicalDevice(), sem, d.context.Allocator)
	}
}
