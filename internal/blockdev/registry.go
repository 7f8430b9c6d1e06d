package blockdev

import (
	"sync"

	"github.com/blkmig/blkmigrate"
)

// Registry is a DeviceRegistry over a fixed, named set of devices,
// iterated in registration order so enumeration (spec §4.2) is
// deterministic across runs with the same device set.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]blkmigrate.BlockDevice
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]blkmigrate.BlockDevice)}
}

// Register adds dev under its own Name(), replacing any existing
// device already registered under that name.
func (r *Registry) Register(dev blkmigrate.BlockDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := dev.Name()
	if _, exists := r.devices[name]; !exists {
		r.order = append(r.order, name)
	}
	r.devices[name] = dev
}

func (r *Registry) IterateAll(fn func(blkmigrate.BlockDevice) bool) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, name := range order {
		r.mu.RLock()
		dev, ok := r.devices[name]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn(dev) {
			return
		}
	}
}

func (r *Registry) Find(name string) (blkmigrate.BlockDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[name]
	return dev, ok
}

var _ blkmigrate.DeviceRegistry = (*Registry)(nil)

// RefTable is a reference-counted DriveRefTable: Acquire increments a
// per-drive count (creating it at one on first acquire), Release
// decrements it. Acquiring a name already at its hold limit is not
// modeled here since this module never caps concurrent holders; the
// interface exists so a real hypervisor's drive layer can refuse an
// acquire on a drive that's mid-detach.
type RefTable struct {
	mu    sync.Mutex
	count map[string]int
}

// NewRefTable creates an empty RefTable.
func NewRefTable() *RefTable {
	return &RefTable{count: make(map[string]int)}
}

func (t *RefTable) Acquire(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count[name]++
	return nil
}

func (t *RefTable) Release(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count[name] > 0 {
		t.count[name]--
	}
	if t.count[name] == 0 {
		delete(t.count, name)
	}
}

// HeldCount reports the current hold count for name, for tests.
func (t *RefTable) HeldCount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count[name]
}

var _ blkmigrate.DriveRefTable = (*RefTable)(nil)
