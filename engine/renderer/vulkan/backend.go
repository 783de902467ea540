// Package vulkan is the rhi.Driver that talks to a GPU through goki/vulkan.
// Importing it registers rhi.BackendVulkan.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func init() {
	rhi.RegisterBackend(rhi.BackendVulkan, func(desc *rhi.DeviceDesc) (rhi.Driver, error) {
		return Open(desc)
	})
}

// Open creates the instance, the surface for desc.Window (a *glfw.Window,
// or nil for offscreen use) and the logical device. Everything created so
// far is released when a step fails.
func Open(desc *rhi.DeviceDesc) (*Driver, error) {
	var window *glfw.Window
	if desc.Window != nil {
		w, ok := desc.Window.(*glfw.Window)
		if !ok {
			err := fmt.Errorf("vulkan: unsupported window type %T", desc.Window)
			core.LogError("%s", err)
			return nil, err
		}
		window = w
	}

	d := newDriver(desc.EnableValidation)
	if err := d.initialize(desc.ApplicationName, window); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return d, nil
}

func (d *Driver) initialize(appName string, window *glfw.Window) error {
	if window != nil {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			err := fmt.Errorf("GetInstanceProcAddress is nil")
			core.LogError("%s", err)
			return err
		}
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		core.LogError("failed to load the Vulkan loader: %s", err)
		return err
	}

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	if err := d.createInstance(appName, window); err != nil {
		return err
	}

	if d.debug {
		if err := d.createDebugger(); err != nil {
			return err
		}
	}

	if window != nil {
		core.LogDebug("Creating Vulkan surface...")
		surface, err := window.CreateWindowSurface(d.context.Instance, nil)
		if err != nil {
			core.LogError("Vulkan surface creation failed: %s", err)
			return err
		}
		d.context.Surface = vk.SurfaceFromPointer(surface)
		d.surfaceHandle = d.surfaces.Insert(d.context.Surface)
		core.LogDebug("Vulkan surface created.")
	}

	return DeviceCreate(d.context)
}

func (d *Driver) createInstance(appName string, window *glfw.Window) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{vk.KhrSurfaceExtensionName}
	if window != nil {
		requiredExtensions = append(requiredExtensions, window.GetRequiredInstanceExtensions()...)
	}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}
	if d.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers should only be enabled on non-release builds.
	var layers []string
	if d.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
		core.LogInfo("All required validation layers are present.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError("%s", err)
		return err
	}
	d.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		core.LogError("%s", err)
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}

	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[cString(available[i].LayerName[:])] = true
	}
	for _, name := range required {
		if !names[name] {
			err := fmt.Errorf("required validation layer is missing: %s", name)
			core.LogError("%s", err)
			return err
		}
	}
	return nil
}

func (d *Driver) createDebugger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}

	var dbg vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
		core.LogError("vk.CreateDebugReportCallback failed with %s", err)
		return err
	}
	d.context.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func (d *Driver) Submit(queue rhi.QueueType, info *rhi.SubmitInfo) error {
	submitInfo := vk.SubmitInfo{
		SType: vk.StructureTypeSubmitInfo,
	}

	// Command buffer(s) to be executed.
	commandBuffers := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	for _, h := range info.CommandBuffers {
		cb, ok := d.commands.Get(h)
		if !ok {
			return fmt.Errorf("submit command buffer %s: %w", h, rhi.ErrStaleHandle)
		}
		commandBuffers = append(commandBuffers, cb.Handle)
	}
	submitInfo.CommandBufferCount = uint32(len(commandBuffers))
	submitInfo.PCommandBuffers = commandBuffers

	// Wait semaphores pair 1:1 with the stages that wait on them.
	if n := len(info.WaitSemaphores); n > 0 {
		waits := make([]vk.Semaphore, n)
		stages := make([]vk.PipelineStageFlags, n)
		for i, h := range info.WaitSemaphores {
			sem, ok := d.semaphores.Get(h)
			if !ok {
				return fmt.Errorf("submit wait semaphore %s: %w", h, rhi.ErrStaleHandle)
			}
			waits[i] = sem
			stages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			if i < len(info.WaitStages) {
				stages[i] = toVkStages(info.WaitStages[i])
			}
		}
		submitInfo.WaitSemaphoreCount = uint32(n)
		submitInfo.PWaitSemaphores = waits
		submitInfo.PWaitDstStageMask = stages
	}

	if n := len(info.SignalSemaphores); n > 0 {
		signals := make([]vk.Semaphore, n)
		for i, h := range info.SignalSemaphores {
			sem, ok := d.semaphores.Get(h)
			if !ok {
				return fmt.Errorf("submit signal semaphore %s: %w", h, rhi.ErrStaleHandle)
			}
			signals[i] = sem
		}
		submitInfo.SignalSemaphoreCount = uint32(n)
		submitInfo.PSignalSemaphores = signals
	}

	fence := vk.NullFence
	var tracked *VulkanFence
	if !info.Fence.IsNil() {
		f, ok := d.fences.Get(info.Fence)
		if !ok {
			return fmt.Errorf("submit fence %s: %w", info.Fence, rhi.ErrStaleHandle)
		}
		fence, tracked = f.Handle, f
	}

	device := d.context.Device
	err := d.locks.SafeQueueCall(device.queueFamily(queue), func() error {
		if res := vk.QueueSubmit(device.queue(queue), 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	if tracked != nil {
		tracked.IsSignaled = false
	}
	for _, h := range info.CommandBuffers {
		if cb, ok := d.commands.Get(h); ok {
			cb.UpdateSubmitted()
		}
	}
	return nil
}

func (d *Driver) WaitIdle() error {
	if d.logicalDevice() == nil {
		return nil
	}
	if res := vk.DeviceWaitIdle(d.logicalDevice()); res != vk.Success {
		err := resultError("vkDeviceWaitIdle", res)
		core.LogError("%s", err)
		return err
	}
	return nil
}

// Destroy releases every object the device still owns, then the device,
// the surface and the instance. It is safe to call more than once.
func (d *Driver) Destroy() {
	if d.context.Instance == nil {
		return
	}
	if device := d.logicalDevice(); device != nil {
		vk.DeviceWaitIdle(device)

		// Destroy in the opposite order of creation.
		for _, h := range handles(d.swapchains) {
			d.DestroySwapChain(h)
		}
		for _, h := range handles(d.framebuffers) {
			d.DestroyFramebuffer(h)
		}
		for _, h := range handles(d.renderpasses) {
			d.DestroyRenderPass(h)
		}
		for _, h := range handles(d.pipelines) {
			d.DestroyPipeline(h)
		}
		for _, h := range handles(d.shaders) {
			d.DestroyShader(h)
		}
		for _, h := range handles(d.pools) {
			d.DestroyDescriptorPool(h)
		}
		for _, h := range handles(d.setLayouts) {
			d.DestroyDescriptorSetLayout(h)
		}
		for _, h := range handles(d.commandPools) {
			d.DestroyCommandPool(h)
		}
		for _, h := range handles(d.fences) {
			d.DestroyFence(h)
		}
		for _, h := range handles(d.semaphores) {
			d.DestroySemaphore(h)
		}
		for _, h := range handles(d.samplers) {
			d.DestroySampler(h)
		}
		for _, h := range handles(d.images) {
			d.DestroyTexture(h)
		}
		for _, h := range handles(d.buffers) {
			d.DestroyBuffer(h)
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(d.context)
	}

	core.LogDebug("Destroying Vulkan surface...")
	if d.context.Surface != vk.NullSurface {
		vk.DestroySurface(d.context.Instance, d.context.Surface, d.context.Allocator)
		d.context.Surface = vk.NullSurface
	}
	d.surfaces.Clear()

	if d.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.context.Instance, d.context.debugMessenger, d.context.Allocator)
		d.context.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(d.context.Instance, d.context.Allocator)
	d.context.Instance = nil
}

// handles snapshots the live handles of an arena so the caller can remove
// them while iterating.
func handles[T, V any](a *core.Arena[T, V]) []core.Handle[T] {
	var out []core.Handle[T]
	a.Each(func(h core.Handle[T], _ V) {
		out = append(out, h)
	})
	return out
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
