package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
}

func (d *Driver) CreateFramebuffer(pass rhi.RenderPassHandle, attachments []rhi.TextureHandle, width, height uint32) (rhi.FramebufferHandle, error) {
	renderpass, ok := d.renderpasses.Get(pass)
	if !ok {
		err := fmt.Errorf("create framebuffer: render pass %s: %w", pass, rhi.ErrStaleHandle)
		core.LogError("%s", err)
		return rhi.FramebufferHandle{}, err
	}

	outFramebuffer := &VulkanFramebuffer{
		Attachments: make([]vk.ImageView, len(attachments)),
	}
	for i, h := range attachments {
		img, ok := d.images.Get(h)
		if !ok {
			err := fmt.Errorf("create framebuffer: attachment %d: %w", i, rhi.ErrStaleHandle)
			core.LogError("%s", err)
			return rhi.FramebufferHandle{}, err
		}
		outFramebuffer.Attachments[i] = img.View
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	if res := vk.CreateFramebuffer(d.logicalDevice(), &framebufferCreateInfo, d.context.Allocator, &outFramebuffer.Handle); res != vk.Success {
		err := fmt.Errorf("create framebuffer: %w", resultError("vkCreateFramebuffer", res))
		core.LogError("%s", err)
		return rhi.FramebufferHandle{}, err
	}
	return d.framebuffers.Insert(outFramebuffer), nil
}

func (d *Driver) DestroyFramebuffer(h rhi.FramebufferHandle) {
	if vfb, ok := d.framebuffers.Remove(h); ok {
		vk.DestroyFramebuffer(d.logicalDevice(), vfb.Handle, d.context.Allocator)
		vfb.Attachments = nil
	}
}
