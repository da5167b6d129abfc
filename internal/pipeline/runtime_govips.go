//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips may be started once per process; a restart after Shutdown is not
// supported by the library.
var vipsRuntime struct {
	mu      sync.Mutex
	running bool
	stopped bool
}

// Startup initializes libvips. Decodes are small and short lived, so the
// operation cache stays modest.
func Startup() error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	switch {
	case vipsRuntime.running:
		return nil
	case vipsRuntime.stopped:
		return errors.New("libvips cannot be restarted after shutdown")
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheMem:  64 << 20,
		MaxCacheSize: 50,
	})
	vipsRuntime.running = true
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.running {
		vips.Shutdown()
		vipsRuntime.running = false
		vipsRuntime.stopped = true
	}
}

func NativeDecoder() string { return "libvips" }
