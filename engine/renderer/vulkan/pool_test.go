package vulkan

import (
	"errors"
	"sync"
	"testing"
)

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.SafeCall(PipelineManagement, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("concurrent callers inside one group\nhave %d\nwant 1", maxSeen)
	}
}

func TestLockPoolReturnsError(t *testing.T) {
	pool := NewVulkanLockPool()
	want := errors.New("boom")
	if have := pool.SafeQueueCall(3, func() error { return want }); have != want {
		t.Errorf("SafeQueueCall\nhave %v\nwant %v", have, want)
	}
	// The queue lock is released after an error.
	if err := pool.SafeQueueCall(3, func() error { return nil }); err != nil {
		t.Errorf("second SafeQueueCall: %v", err)
	}
}

func TestLockPoolNestedGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	err := pool.SafeCall(CommandPoolManagement, func() error {
		return pool.SafeQueueCall(0, func() error {
			return pool.SafeCall(DescriptorPoolManagement, func() error { return nil })
		})
	})
	if err != nil {
		t.Errorf("nested locks: %v", err)
	}
}
