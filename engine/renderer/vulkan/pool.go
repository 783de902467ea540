package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement    LockGroup = "command_pool_management"
	DescriptorPoolManagement LockGroup = "descriptor_pool_management"
	PipelineManagement       LockGroup = "pipeline_management"
	SwapchainManagement      LockGroup = "swapchain_management"
)

// VulkanLockPool serializes access to externally synchronized Vulkan
// objects: pools and swap chains by group, queues by family index.
type VulkanLockPool struct {
	mu sync.Mutex // Protects access to the maps

	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

// Get or create a mutex for a specific group
func (vs *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) queueLock(index uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.queueMutexes[index]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[index] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.groupLock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SafeQueueCall runs fn while holding the lock of a queue family. Queues
// that share a family share the lock.
func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := vs.queueLock(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()

	return fn()
}
