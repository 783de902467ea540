package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanSwapchain keeps the presentable images wrapped as textures. Only
// their views are owned here; the images go away with the swap chain.
type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Images      []vk.Image
	Textures    []rhi.TextureHandle
}

func (d *Driver) querySurface(h rhi.SurfaceHandle) (*VulkanSwapchainSupportInfo, error) {
	surface, ok := d.surfaces.Get(h)
	if !ok {
		return nil, fmt.Errorf("surface %s: %w", h, rhi.ErrStaleHandle)
	}
	info := &VulkanSwapchainSupportInfo{}
	if err := DeviceQuerySwapchainSupport(d.context.Device.PhysicalDevice, surface, info); err != nil {
		return nil, err
	}
	d.context.Device.SwapchainSupport = *info
	return info, nil
}

func (d *Driver) SurfaceCapabilities(h rhi.SurfaceHandle) (rhi.SurfaceCapabilities, error) {
	info, err := d.querySurface(h)
	if err != nil {
		return rhi.SurfaceCapabilities{}, err
	}
	caps := info.Capabilities
	return rhi.SurfaceCapabilities{
		MinImageCount:  caps.MinImageCount,
		MaxImageCount:  caps.MaxImageCount,
		CurrentExtent:  rhi.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent: rhi.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent: rhi.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
	}, nil
}

// SurfaceFormats skips formats the rhi has no name for.
func (d *Driver) SurfaceFormats(h rhi.SurfaceHandle) ([]rhi.SurfaceFormat, error) {
	info, err := d.querySurface(h)
	if err != nil {
		return nil, err
	}
	out := make([]rhi.SurfaceFormat, 0, len(info.Formats))
	for _, f := range info.Formats {
		format, ok := fromVkFormat(f.Format)
		if !ok {
			continue
		}
		space, ok := fromVkColorSpace(f.ColorSpace)
		if !ok {
			continue
		}
		out = append(out, rhi.SurfaceFormat{Format: format, ColorSpace: space})
	}
	return out, nil
}

func (d *Driver) SurfacePresentModes(h rhi.SurfaceHandle) ([]rhi.PresentMode, error) {
	info, err := d.querySurface(h)
	if err != nil {
		return nil, err
	}
	out := make([]rhi.PresentMode, 0, len(info.PresentModes))
	for _, m := range info.PresentModes {
		if mode, ok := fromVkPresentMode(m); ok {
			out = append(out, mode)
		}
	}
	return out, nil
}

func (d *Driver) CreateSwapChain(info *rhi.SwapChainCreateInfo) (rhi.SwapChainHandle, error) {
	surface, ok := d.surfaces.Get(info.Surface)
	if !ok {
		return rhi.SwapChainHandle{}, fmt.Errorf("create swap chain on surface %s: %w", info.Surface, rhi.ErrStaleHandle)
	}
	device := d.context.Device

	swapchain := &VulkanSwapchain{
		ImageFormat: vk.SurfaceFormat{
			Format:     toVkFormat(info.Format.Format),
			ColorSpace: toVkColorSpace(info.Format.ColorSpace),
		},
		Extent: vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
	}

	// Swapchain create info
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    info.ImageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
	}

	// Setup the queue family indices
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = device.SwapchainSupport.Capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = toVkPresentMode(info.PresentMode)
	swapchainCreateInfo.Clipped = vk.True

	err := d.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(device.LogicalDevice, &swapchainCreateInfo, d.context.Allocator, &swapchain.Handle); res != vk.Success {
			return resultError("vkCreateSwapchainKHR", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return rhi.SwapChainHandle{}, err
	}

	// Images
	var imageCount uint32
	if res := vk.GetSwapchainImages(device.LogicalDevice, swapchain.Handle, &imageCount, nil); res != vk.Success {
		d.releaseSwapchain(swapchain)
		err := resultError("vkGetSwapchainImagesKHR", res)
		core.LogError("%s", err)
		return rhi.SwapChainHandle{}, err
	}
	swapchain.Images = make([]vk.Image, imageCount)
	if res := vk.GetSwapchainImages(device.LogicalDevice, swapchain.Handle, &imageCount, swapchain.Images); res != vk.Success {
		d.releaseSwapchain(swapchain)
		err := resultError("vkGetSwapchainImagesKHR", res)
		core.LogError("%s", err)
		return rhi.SwapChainHandle{}, err
	}

	// Views
	for _, image := range swapchain.Images {
		view, err := d.createImageView(image, vk.ImageViewType2d, swapchain.ImageFormat.Format, rhi.AspectColor, 1, 1)
		if err != nil {
			d.releaseSwapchain(swapchain)
			core.LogError("%s", err)
			return rhi.SwapChainHandle{}, err
		}
		swapchain.Textures = append(swapchain.Textures, d.images.Insert(&VulkanImage{
			Handle:  image,
			View:    view,
			Width:   swapchain.Extent.Width,
			Height:  swapchain.Extent.Height,
			Depth:   1,
			Format:  swapchain.ImageFormat.Format,
			Aspect:  rhi.AspectColor,
			Wrapped: true,
		}))
	}

	core.LogDebug("vulkan swapchain created with %d images", imageCount)
	return d.swapchains.Insert(swapchain), nil
}

// releaseSwapchain drops views the caller has not destroyed yet, then the
// swap chain itself.
func (d *Driver) releaseSwapchain(vs *VulkanSwapchain) {
	for _, h := range vs.Textures {
		d.DestroyTexture(h)
	}
	vs.Textures = nil
	vs.Images = nil
	if vs.Handle != vk.NullSwapchain {
		d.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(d.logicalDevice(), vs.Handle, d.context.Allocator)
			return nil
		})
		vs.Handle = vk.NullSwapchain
	}
}

func (d *Driver) DestroySwapChain(h rhi.SwapChainHandle) {
	if vs, ok := d.swapchains.Remove(h); ok {
		d.releaseSwapchain(vs)
	}
}

func (d *Driver) SwapChainImages(h rhi.SwapChainHandle) ([]rhi.TextureHandle, error) {
	vs, ok := d.swapchains.Get(h)
	if !ok {
		return nil, fmt.Errorf("swap chain images %s: %w", h, rhi.ErrStaleHandle)
	}
	return append([]rhi.TextureHandle(nil), vs.Textures...), nil
}

func (d *Driver) AcquireNextImage(h rhi.SwapChainHandle, signal rhi.SemaphoreHandle, timeout time.Duration) (uint32, rhi.Status) {
	vs, ok := d.swapchains.Get(h)
	if !ok {
		core.LogError("acquire next image: swap chain %s: %v", h, rhi.ErrStaleHandle)
		return 0, rhi.StatusError
	}
	semaphore, ok := d.semaphores.Get(signal)
	if !ok {
		core.LogError("acquire next image: semaphore %s: %v", signal, rhi.ErrStaleHandle)
		return 0, rhi.StatusError
	}

	var imageIndex uint32
	var result vk.Result
	d.locks.SafeCall(SwapchainManagement, func() error {
		result = vk.AcquireNextImage(d.logicalDevice(), vs.Handle, timeoutNanos(timeout), semaphore, vk.NullFence, &imageIndex)
		return nil
	})
	status := statusFromResult(result)
	if status == rhi.StatusError {
		core.LogError("failed to acquire swapchain image: %s", VulkanResultString(result, true))
	}
	return imageIndex, status
}

func (d *Driver) Present(h rhi.SwapChainHandle, imageIndex uint32, wait rhi.SemaphoreHandle) rhi.Status {
	vs, ok := d.swapchains.Get(h)
	if !ok {
		core.LogError("present: swap chain %s: %v", h, rhi.ErrStaleHandle)
		return rhi.StatusError
	}

	// Return the image to the swapchain for presentation.
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{vs.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if !wait.IsNil() {
		semaphore, ok := d.semaphores.Get(wait)
		if !ok {
			core.LogError("present: semaphore %s: %v", wait, rhi.ErrStaleHandle)
			return rhi.StatusError
		}
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{semaphore}
	}

	device := d.context.Device
	var result vk.Result
	d.locks.SafeQueueCall(device.queueFamily(rhi.QueuePresent), func() error {
		result = vk.QueuePresent(device.queue(rhi.QueuePresent), &presentInfo)
		return nil
	})
	status := statusFromResult(result)
	if status == rhi.StatusError {
		core.LogError("failed to present swapchain image: %s", VulkanResultString(result, true))
	}
	return status
}
