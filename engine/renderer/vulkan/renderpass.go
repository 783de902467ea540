package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanRenderpass is a single-subpass render pass.
type VulkanRenderpass struct {
	Handle     vk.RenderPass
	ColorCount int
	HasDepth   bool
	Samples    vk.SampleCountFlagBits
}

func attachmentDescription(a *rhi.AttachmentDesc) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         toVkFormat(a.Format),
		Samples:        toVkSampleCount(a.Samples),
		LoadOp:         toVkLoadOp(a.LoadOp),
		StoreOp:        toVkStoreOp(a.StoreOp),
		StencilLoadOp:  toVkLoadOp(a.StencilLoadOp),
		StencilStoreOp: toVkStoreOp(a.StencilStoreOp),
		InitialLayout:  toVkImageLayout(a.InitialLayout),
		FinalLayout:    barrierTargetLayout(a.FinalLayout),
	}
}

func (d *Driver) CreateRenderPass(desc *rhi.RenderPassDesc) (rhi.RenderPassHandle, error) {
	outRenderpass := &VulkanRenderpass{
		ColorCount: len(desc.ColorAttachments),
		HasDepth:   desc.DepthStencil != nil,
		Samples:    vk.SampleCount1Bit,
	}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, len(desc.ColorAttachments)+1)
	colorReferences := make([]vk.AttachmentReference, len(desc.ColorAttachments))
	for i := range desc.ColorAttachments {
		attachmentDescriptions = append(attachmentDescriptions, attachmentDescription(&desc.ColorAttachments[i]))
		colorReferences[i] = vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}
	if len(desc.ColorAttachments) > 0 {
		outRenderpass.Samples = toVkSampleCount(desc.ColorAttachments[0].Samples)
		subpass.ColorAttachmentCount = uint32(len(colorReferences))
		subpass.PColorAttachments = colorReferences
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	// Depth attachment, if there is one. It always comes after the colors.
	if desc.DepthStencil != nil {
		if len(desc.ColorAttachments) == 0 {
			outRenderpass.Samples = toVkSampleCount(desc.DepthStencil.Samples)
		}
		attachmentDescriptions = append(attachmentDescriptions, attachmentDescription(desc.DepthStencil))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(desc.ColorAttachments)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		dependency.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		dependency.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		dependency.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	if res := vk.CreateRenderPass(d.logicalDevice(), &renderpassCreateInfo, d.context.Allocator, &outRenderpass.Handle); res != vk.Success {
		err := fmt.Errorf("render pass %q: %w", desc.Name, resultError("vkCreateRenderPass", res))
		core.LogError("%s", err)
		return rhi.RenderPassHandle{}, err
	}
	return d.renderpasses.Insert(outRenderpass), nil
}

func (d *Driver) DestroyRenderPass(h rhi.RenderPassHandle) {
	if vr, ok := d.renderpasses.Remove(h); ok {
		vk.DestroyRenderPass(d.logicalDevice(), vr.Handle, d.context.Allocator)
	}
}

func (d *Driver) CmdBeginRenderPass(cmd rhi.CommandBufferHandle, pass rhi.RenderPassHandle, framebuffer rhi.FramebufferHandle, area rhi.Rect, clears []rhi.AttachmentClear) {
	commandBuffer, ok := d.recording(cmd, "begin render pass")
	if !ok {
		return
	}
	vr, ok := d.renderpasses.Get(pass)
	if !ok {
		core.LogError("begin render pass: render pass %s: %v", pass, rhi.ErrStaleHandle)
		return
	}
	fb, ok := d.framebuffers.Get(framebuffer)
	if !ok {
		core.LogError("begin render pass: framebuffer %s: %v", framebuffer, rhi.ErrStaleHandle)
		return
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: fb.Handle,
		RenderArea:  toVkRect(area),
	}

	clearValues := make([]vk.ClearValue, len(clears))
	for i, c := range clears {
		if c.DepthStencil {
			clearValues[i].SetDepthStencil(c.Depth, c.Stencil)
		} else {
			clearValues[i].SetColor(c.Color[:])
		}
	}
	beginInfo.ClearValueCount = uint32(len(clearValues))
	beginInfo.PClearValues = clearValues

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
}

func (d *Driver) CmdEndRenderPass(cmd rhi.CommandBufferHandle) {
	if commandBuffer, ok := d.recording(cmd, "end render pass"); ok {
		vk.CmdEndRenderPass(commandBuffer.Handle)
	}
}
