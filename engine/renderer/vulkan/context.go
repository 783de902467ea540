package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanContext holds the instance-level objects every native call needs.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// Driver implements rhi.Driver on top of goki/vulkan. Native objects live
// in arenas keyed by the rhi handle types.
type Driver struct {
	context *VulkanContext
	locks   *VulkanLockPool
	debug   bool

	surfaceHandle rhi.SurfaceHandle

	buffers      *core.Arena[rhi.Buffer, *VulkanBuffer]
	images       *core.Arena[rhi.Texture, *VulkanImage]
	samplers     *core.Arena[rhi.Sampler, vk.Sampler]
	shaders      *core.Arena[rhi.Shader, *VulkanShaderStage]
	pipelines    *core.Arena[rhi.GraphicsPipeline, *VulkanPipeline]
	setLayouts   *core.Arena[rhi.DescriptorSetLayout, vk.DescriptorSetLayout]
	pools        *core.Arena[rhi.DescriptorPoolManager, *VulkanDescriptorPool]
	sets         *core.Arena[rhi.DescriptorSet, *VulkanDescriptorSet]
	renderpasses *core.Arena[rhi.RenderPass, *VulkanRenderpass]
	framebuffers *core.Arena[rhi.Framebuffer, *VulkanFramebuffer]
	commandPools *core.Arena[rhi.CommandPoolManager, *VulkanCommandPool]
	commands     *core.Arena[rhi.CommandBuffer, *VulkanCommandBuffer]
	fences       *core.Arena[rhi.Fence, *VulkanFence]
	semaphores   *core.Arena[rhi.Semaphore, vk.Semaphore]
	surfaces     *core.Arena[rhi.Surface, vk.Surface]
	swapchains   *core.Arena[rhi.SwapChain, *VulkanSwapchain]
}

var _ rhi.Driver = (*Driver)(nil)

func newDriver(debug bool) *Driver {
	return &Driver{
		context:      &VulkanContext{Device: &VulkanDevice{}},
		locks:        NewVulkanLockPool(),
		debug:        debug,
		buffers:      core.NewArena[rhi.Buffer, *VulkanBuffer](),
		images:       core.NewArena[rhi.Texture, *VulkanImage](),
		samplers:     core.NewArena[rhi.Sampler, vk.Sampler](),
		shaders:      core.NewArena[rhi.Shader, *VulkanShaderStage](),
		pipelines:    core.NewArena[rhi.GraphicsPipeline, *VulkanPipeline](),
		setLayouts:   core.NewArena[rhi.DescriptorSetLayout, vk.DescriptorSetLayout](),
		pools:        core.NewArena[rhi.DescriptorPoolManager, *VulkanDescriptorPool](),
		sets:         core.NewArena[rhi.DescriptorSet, *VulkanDescriptorSet](),
		renderpasses: core.NewArena[rhi.RenderPass, *VulkanRenderpass](),
		framebuffers: core.NewArena[rhi.Framebuffer, *VulkanFramebuffer](),
		commandPools: core.NewArena[rhi.CommandPoolManager, *VulkanCommandPool](),
		commands:     core.NewArena[rhi.CommandBuffer, *VulkanCommandBuffer](),
		fences:       core.NewArena[rhi.Fence, *VulkanFence](),
		semaphores:   core.NewArena[rhi.Semaphore, vk.Semaphore](),
		surfaces:     core.NewArena[rhi.Surface, vk.Surface](),
		swapchains:   core.NewArena[rhi.SwapChain, *VulkanSwapchain](),
	}
}

func (d *Driver) logicalDevice() vk.Device {
	return d.context.Device.LogicalDevice
}

func (d *Driver) Name() string {
	return rhi.BackendVulkan.String()
}

func (d *Driver) Surface() rhi.SurfaceHandle {
	return d.surfaceHandle
}
