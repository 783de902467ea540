package core

import "sync"

// EventContext carries the payload of one event. Codes document which
// fields they fill.
type EventContext struct {
	U32 [4]uint32
	I32 [4]int32
	Any interface{}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed.
	// Context usage: key := data.U32[0]
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Keyboard key released.
	// Context usage: key := data.U32[0]
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Framebuffer resized. A zero size means the window was minimized.
	// Context usage: width, height := data.U32[0], data.U32[1]
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// Configuration file changed on disk.
	// Context usage: cfg := data.Any
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x09
)

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, data EventContext) bool

// EventBus dispatches events synchronously to the listeners registered
// for their code, in registration order. It is safe for concurrent use.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[SystemEventCode][]FnOnEvent
}

func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[SystemEventCode][]FnOnEvent)}
}

func (b *EventBus) Register(code SystemEventCode, onEvent FnOnEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[code] = append(b.listeners[code], onEvent)
}

// Fire stops at the first listener that reports the event handled and
// returns whether any did.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	b.mu.RLock()
	listeners := append([]FnOnEvent(nil), b.listeners[code]...)
	b.mu.RUnlock()

	for _, fn := range listeners {
		if fn(code, sender, data) {
			return true
		}
	}
	return false
}

// Reset drops every listener.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[SystemEventCode][]FnOnEvent)
}
