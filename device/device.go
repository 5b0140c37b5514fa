// Package device moves indexes between the host and accelerator
// devices through a pluggable backend. Without a registered backend the
// package degrades gracefully: the device count is zero and every
// transfer fails with an unsupported error.
package device

import (
	"context"
	"sync"

	"github.com/annexlab/annex"
)

// Backend performs the actual transfers. Implementations register
// themselves with Register, typically from an init function in a
// build-tagged package.
type Backend interface {
	// Name identifies the backend.
	Name() string

	// Count returns the number of usable devices.
	Count() int

	// ToDevice returns a handle backed by device-resident storage.
	ToDevice(ctx context.Context, idx *annex.Index, dev int) (*annex.Index, error)

	// ToHost returns a host-resident copy of a device handle.
	ToHost(ctx context.Context, idx *annex.Index) (*annex.Index, error)

	// ToAllDevices replicates an index across every device.
	ToAllDevices(ctx context.Context, idx *annex.Index) (*annex.Index, error)
}

var (
	mu     sync.RWMutex
	active Backend = noopBackend{}
)

// Register installs a backend. Passing nil restores the no-op backend.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		active = noopBackend{}
		return
	}
	active = b
}

// Active returns the registered backend.
func Active() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Count returns the number of usable devices, zero without a backend.
func Count() int {
	return Active().Count()
}

// IndexToDevice transfers an index to a device.
func IndexToDevice(ctx context.Context, idx *annex.Index, dev int) (*annex.Index, error) {
	return Active().ToDevice(ctx, idx, dev)
}

// IndexToHost transfers a device index back to the host.
func IndexToHost(ctx context.Context, idx *annex.Index) (*annex.Index, error) {
	return Active().ToHost(ctx, idx)
}

// IndexToAllDevices replicates an index across every device.
func IndexToAllDevices(ctx context.Context, idx *annex.Index) (*annex.Index, error) {
	return Active().ToAllDevices(ctx, idx)
}

type noopBackend struct{}

func (noopBackend) Name() string { return "none" }

func (noopBackend) Count() int { return 0 }

func (noopBackend) ToDevice(ctx context.Context, idx *annex.Index, dev int) (*annex.Index, error) {
	return nil, errNoBackend("to_device")
}

func (noopBackend) ToHost(ctx context.Context, idx *annex.Index) (*annex.Index, error) {
	return nil, errNoBackend("to_host")
}

func (noopBackend) ToAllDevices(ctx context.Context, idx *annex.Index) (*annex.Index, error) {
	return nil, errNoBackend("to_all_devices")
}

func errNoBackend(op string) error {
	return &annex.Error{
		Kind:    annex.KindUnsupported,
		Op:      op,
		Message: "no device backend registered",
	}
}
