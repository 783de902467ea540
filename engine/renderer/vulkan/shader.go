package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanShaderStage is a shader module plus the stage info pipelines
// reference it with.
type VulkanShaderStage struct {
	// The internal shader module Handle.
	Handle vk.ShaderModule
	// The pipeline shader stage creation info.
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// spirvWords reinterprets little-endian SPIR-V bytes as the words the
// module create info wants.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

func shaderStageBit(stage rhi.ShaderStage) vk.ShaderStageFlagBits {
	switch stage {
	case rhi.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	case rhi.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

func (d *Driver) CreateShader(desc *rhi.ShaderDesc) (rhi.ShaderHandle, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(desc.Code)),
		PCode:    spirvWords(desc.Code),
	}

	stage := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(d.logicalDevice(), &createInfo, d.context.Allocator, &stage.Handle); res != vk.Success {
		err := fmt.Errorf("shader %q: %w", desc.Name, resultError("vkCreateShaderModule", res))
		core.LogError("%s", err)
		return rhi.ShaderHandle{}, err
	}

	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageBit(desc.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(desc.EntryPoint),
	}
	return d.shaders.Insert(stage), nil
}

func (d *Driver) DestroyShader(h rhi.ShaderHandle) {
	if stage, ok := d.shaders.Remove(h); ok {
		vk.DestroyShaderModule(d.logicalDevice(), stage.Handle, d.context.Allocator)
	}
}
