package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrStaleHandle      = errors.New("stale or invalid handle")
	ErrUnknown          = errors.New("unknown")
)
