package rhi

// BarrierDesc asks for a layout transition of a texture subresource range.
type BarrierDesc struct {
	Texture   *Texture
	OldLayout ResourceLayout
	NewLayout ResourceLayout
	Range     SubresourceRange
}

// AccessForLayout is the access mask that covers every use of an image in
// the given layout.
func AccessForLayout(layout ResourceLayout) Access {
	switch layout {
	case LayoutGeneral:
		return AccessShaderRead | AccessShaderWrite
	case LayoutColorAttachment:
		return AccessColorAttachmentRead | AccessColorAttachmentWrite
	case LayoutDepthStencilAttachment:
		return AccessDepthStencilRead | AccessDepthStencilWrite
	case LayoutDepthStencilReadOnly:
		return AccessDepthStencilRead
	case LayoutShaderReadOnly:
		return AccessShaderRead
	case LayoutTransferSrc:
		return AccessTransferRead
	case LayoutTransferDst:
		return AccessTransferWrite
	case LayoutPresent:
		return AccessMemoryRead
	}
	return AccessNone
}

// StagesForAccess returns the pipeline stages that perform the given
// accesses. An empty mask maps to the top of the pipe on the source side of
// a barrier and to the bottom of the pipe on the destination side.
func StagesForAccess(access Access, src bool) PipelineStage {
	if access == AccessNone {
		if src {
			return StageTopOfPipe
		}
		return StageBottomOfPipe
	}

	var stages PipelineStage
	if access&(AccessTransferRead|AccessTransferWrite) != 0 {
		stages |= StageTransfer
	}
	if access&(AccessShaderRead|AccessShaderWrite|AccessUniformRead) != 0 {
		stages |= StageVertexShader | StageFragmentShader | StageComputeShader
	}
	if access&(AccessColorAttachmentRead|AccessColorAttachmentWrite) != 0 {
		stages |= StageColorAttachmentOutput
	}
	if access&(AccessDepthStencilRead|AccessDepthStencilWrite) != 0 {
		stages |= StageEarlyFragmentTests | StageLateFragmentTests
	}
	if access&(AccessHostRead|AccessHostWrite) != 0 {
		stages |= StageHost
	}
	if access&(AccessVertexAttributeRead|AccessIndexRead) != 0 {
		stages |= StageVertexInput
	}
	if access&AccessIndirectCommandRead != 0 {
		stages |= StageDrawIndirect
	}
	if access&AccessInputAttachmentRead != 0 {
		stages |= StageFragmentShader
	}
	if access&(AccessMemoryRead|AccessMemoryWrite) != 0 {
		stages |= StageBottomOfPipe
	}
	return stages
}

// AspectForFormat picks the image planes a barrier or copy on a texture of
// the given format touches.
func AspectForFormat(f Format) Aspect {
	switch {
	case f.HasStencil():
		return AspectDepth | AspectStencil
	case f.IsDepth():
		return AspectDepth
	}
	return AspectColor
}

// resolveBarrier fills in the access, stage and aspect masks of a layout
// transition.
func resolveBarrier(tex *Texture, oldLayout, newLayout ResourceLayout, rng SubresourceRange) ImageBarrier {
	src := AccessForLayout(oldLayout)
	dst := AccessForLayout(newLayout)
	return ImageBarrier{
		Texture:   tex.handle,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		SrcAccess: src,
		DstAccess: dst,
		SrcStages: StagesForAccess(src, true),
		DstStages: StagesForAccess(dst, false),
		Aspect:    AspectForFormat(tex.desc.Format),
		Range:     tex.clampRange(rng),
	}
}

// defaultLayoutForUsage is the layout a texture created with an Undefined
// initial layout is primed into.
func defaultLayoutForUsage(usage TextureUsage) ResourceLayout {
	switch {
	case usage&TextureUsageSampled != 0:
		return LayoutShaderReadOnly
	case usage&TextureUsageColorAttachment != 0:
		return LayoutColorAttachment
	case usage&TextureUsageDepthStencilAttachment != 0:
		return LayoutDepthStencilAttachment
	case usage&TextureUsageStorage != 0:
		return LayoutGeneral
	}
	return LayoutTransferDst
}
