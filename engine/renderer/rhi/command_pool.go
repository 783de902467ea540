package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// CommandPoolManager owns the native allocator command buffers come from.
// A pool must only be used from one goroutine at a time; record on several
// goroutines by giving each its own manager.
type CommandPoolManager struct {
	device    *Device
	handle    CommandPoolHandle
	queue     QueueType
	transient bool
	live      int
}

// Initialize creates the native pool for the given queue. Transient pools
// hint the driver that their buffers are short lived.
func (m *CommandPoolManager) Initialize(device *Device, queue QueueType, transient bool) error {
	h, err := device.driver.CreateCommandPool(queue, transient)
	if err != nil {
		err = fmt.Errorf("failed to create command pool: %w", err)
		core.LogError("%s", err)
		return err
	}
	m.device = device
	m.handle = h
	m.queue = queue
	m.transient = transient
	m.live = 0
	return nil
}

func (m *CommandPoolManager) Handle() CommandPoolHandle { return m.handle }
func (m *CommandPoolManager) Queue() QueueType          { return m.queue }
func (m *CommandPoolManager) IsTransient() bool         { return m.transient }

// Allocated is the number of command buffers currently allocated from the
// pool.
func (m *CommandPoolManager) Allocated() int { return m.live }

func (m *CommandPoolManager) allocate(level CommandBufferLevel) (CommandBufferHandle, error) {
	if m.handle.IsNil() {
		return CommandBufferHandle{}, fmt.Errorf("command pool is not initialized")
	}
	h, err := m.device.driver.AllocateCommandBuffer(m.handle, level)
	if err != nil {
		return CommandBufferHandle{}, err
	}
	m.live++
	return h, nil
}

func (m *CommandPoolManager) free(h CommandBufferHandle) {
	if m.handle.IsNil() || h.IsNil() {
		return
	}
	m.device.driver.FreeCommandBuffer(m.handle, h)
	m.live--
}

// Reset recycles every command buffer allocated from the pool. None of them
// may be pending on the GPU.
func (m *CommandPoolManager) Reset() error {
	if m.handle.IsNil() {
		return nil
	}
	if err := m.device.driver.ResetCommandPool(m.handle); err != nil {
		err = fmt.Errorf("failed to reset command pool: %w", err)
		core.LogError("%s", err)
		return err
	}
	return nil
}

// Destroy frees the pool and, implicitly, every buffer allocated from it.
func (m *CommandPoolManager) Destroy() {
	if m.handle.IsNil() {
		return
	}
	m.device.driver.DestroyCommandPool(m.handle)
	m.handle = CommandPoolHandle{}
	m.live = 0
}
