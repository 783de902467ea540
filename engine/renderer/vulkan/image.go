package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanImage is the native side of an rhi.Texture. Wrapped images belong
// to a swap chain; only their view is owned here.
type VulkanImage struct {
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	Width   uint32
	Height  uint32
	Depth   uint32
	Format  vk.Format
	Aspect  rhi.Aspect
	Wrapped bool
}

func imageViewType(desc *rhi.TextureDesc) vk.ImageViewType {
	switch {
	case desc.Dimension == rhi.TextureDimensionCube:
		return vk.ImageViewTypeCube
	case desc.Dimension == rhi.TextureDimension3D:
		return vk.ImageViewType3d
	case desc.ArrayLayers > 1:
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

func (d *Driver) CreateTexture(desc *rhi.TextureDesc) (rhi.TextureHandle, error) {
	device := d.logicalDevice()

	imageType := vk.ImageType2d
	if desc.Dimension == rhi.TextureDimension3D {
		imageType = vk.ImageType3d
	}
	var flags vk.ImageCreateFlags
	if desc.Dimension == rhi.TextureDimensionCube {
		flags |= vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	depth := desc.Depth
	if depth == 0 || imageType != vk.ImageType3d {
		depth = 1
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: imageType,
		Format:    toVkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  depth,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Samples:       toVkSampleCount(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toVkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &VulkanImage{
		Width:  desc.Width,
		Height: desc.Height,
		Depth:  depth,
		Format: imageInfo.Format,
		Aspect: rhi.AspectForFormat(desc.Format),
	}
	if res := vk.CreateImage(device, &imageInfo, d.context.Allocator, &img.Handle); res != vk.Success {
		err := fmt.Errorf("texture %q: %w", desc.Name, resultError("vkCreateImage", res))
		core.LogError("%s", err)
		return rhi.TextureHandle{}, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, img.Handle, &reqs)
	reqs.Deref()

	mem, _, err := d.allocate(reqs, memoryProperties(rhi.MemoryGpuOnly))
	if err != nil {
		d.releaseImage(img)
		err = fmt.Errorf("texture %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.TextureHandle{}, err
	}
	img.Memory = mem
	if res := vk.BindImageMemory(device, img.Handle, img.Memory, 0); res != vk.Success {
		d.releaseImage(img)
		err := fmt.Errorf("texture %q: %w", desc.Name, resultError("vkBindImageMemory", res))
		core.LogError("%s", err)
		return rhi.TextureHandle{}, err
	}

	view, err := d.createImageView(img.Handle, imageViewType(desc), img.Format, img.Aspect, desc.MipLevels, desc.ArrayLayers)
	if err != nil {
		d.releaseImage(img)
		err = fmt.Errorf("texture %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.TextureHandle{}, err
	}
	img.View = view
	return d.images.Insert(img), nil
}

func (d *Driver) createImageView(image vk.Image, viewType vk.ImageViewType, format vk.Format, aspect rhi.Aspect, mips, layers uint32) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     toVkAspect(aspect),
			BaseMipLevel:   0,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.logicalDevice(), &viewInfo, d.context.Allocator, &view); res != vk.Success {
		return nil, resultError("vkCreateImageView", res)
	}
	return view, nil
}

func (d *Driver) releaseImage(img *VulkanImage) {
	device := d.logicalDevice()
	if img.View != nil {
		vk.DestroyImageView(device, img.View, d.context.Allocator)
		img.View = nil
	}
	if img.Wrapped {
		return
	}
	if img.Handle != nil {
		vk.DestroyImage(device, img.Handle, d.context.Allocator)
		img.Handle = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(device, img.Memory, d.context.Allocator)
		img.Memory = nil
	}
}

func (d *Driver) DestroyTexture(h rhi.TextureHandle) {
	if img, ok := d.images.Remove(h); ok {
		d.releaseImage(img)
	}
}

func (d *Driver) CreateSampler(desc *rhi.SamplerDesc) (rhi.SamplerHandle, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               toVkFilter(desc.MagFilter),
		MinFilter:               toVkFilter(desc.MinFilter),
		MipmapMode:              toVkMipmapMode(desc.MipmapMode),
		AddressModeU:            toVkAddressMode(desc.AddressU),
		AddressModeV:            toVkAddressMode(desc.AddressV),
		AddressModeW:            toVkAddressMode(desc.AddressW),
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  desc.MinLod,
		MaxLod:                  desc.MaxLod,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}

	// Anisotropy needs the device feature; the requested level is clamped
	// to what the device reports.
	if desc.MaxAnisotropy > 1 && d.context.Device.Features.SamplerAnisotropy == vk.True {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = core.Clamp(desc.MaxAnisotropy, 1, d.context.Device.Properties.Limits.MaxSamplerAnisotropy)
	}
	if desc.CompareEnable {
		samplerInfo.CompareEnable = vk.True
		samplerInfo.CompareOp = toVkCompareOp(desc.CompareOp)
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(d.logicalDevice(), &samplerInfo, d.context.Allocator, &sampler); res != vk.Success {
		err := fmt.Errorf("sampler %q: %w", desc.Name, resultError("vkCreateSampler", res))
		core.LogError("%s", err)
		return rhi.SamplerHandle{}, err
	}
	return d.samplers.Insert(sampler), nil
}

func (d *Driver) DestroySampler(h rhi.SamplerHandle) {
	if sampler, ok := d.samplers.Remove(h); ok {
		vk.DestroySampler(d.logicalDevice(), sampler, d.context.Allocator)
	}
}
