package sandbox

import (
	"sync"

	"github.com/koustreak/driftbox/internal/errs"
)

// PortAllocator hands out host ports for sandbox containers.
type PortAllocator interface {
	// Allocate returns a port, or 0 to let the container runtime choose.
	Allocate() (int, error)
	Release(port int)
}

// EphemeralPorts leaves port choice to the runtime.
type EphemeralPorts struct{}

func (EphemeralPorts) Allocate() (int, error) { return 0, nil }
func (EphemeralPorts) Release(int)            {}

// SequentialPorts cycles through [base, base+size), skipping ports still in
// use.
type SequentialPorts struct {
	base, size int

	mu   sync.Mutex
	next int
	used map[int]struct{}
}

func NewSequentialPorts(base, size int) *SequentialPorts {
	if size <= 0 {
		size = 1
	}
	return &SequentialPorts{base: base, size: size, used: make(map[int]struct{})}
}

func (p *SequentialPorts) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		port := p.base + (p.next+i)%p.size
		if _, busy := p.used[port]; busy {
			continue
		}
		p.used[port] = struct{}{}
		p.next = (p.next + i + 1) % p.size
		return port, nil
	}
	return 0, errs.Newf(errs.ErrKindProvisioning, "no free sandbox port in %d-%d", p.base, p.base+p.size-1)
}

func (p *SequentialPorts) Release(port int) {
	p.mu.Lock()
	delete(p.used, port)
	p.mu.Unlock()
}

// InUse reports how many ports are allocated.
func (p *SequentialPorts) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
