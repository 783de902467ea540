package rhi

import (
	"errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

var (
	ErrOutOfPoolMemory = errors.New("descriptor pool out of memory")
	ErrFragmentedPool  = errors.New("descriptor pool fragmented")
	ErrOutOfDate       = errors.New("swap chain out of date")
	ErrSuboptimal      = errors.New("swap chain suboptimal")
	ErrSwapChainLost   = errors.New("swap chain lost after a failed rebuild")
	ErrStaleHandle     = core.ErrStaleHandle
	ErrOutOfBounds     = errors.New("write out of bounds")
	ErrNotRecording    = errors.New("command buffer is not recording")
	ErrUnknownBackend  = errors.New("unknown backend")
	ErrTimeout         = errors.New("wait timed out")
	ErrDeviceLost      = errors.New("device lost")
)
