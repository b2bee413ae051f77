package simtarget

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

const pageSize = 4096

type page struct {
	mu   sync.Mutex
	data [pageSize]byte
}

// memory is a sparse byte addressable memory. Pages are created on first write;
// reading an untouched page yields zeros.
type memory struct {
	pages *xsync.MapOf[uint64, *page]
}

func newMemory() *memory {
	return &memory{pages: xsync.NewMapOf[uint64, *page]()}
}

// write stores data starting at address. Without increment every byte goes
// to the same address.
func (m *memory) write(address uint64, data []byte, increment bool) {
	for i, b := range data {
		addr := address
		if increment {
			addr += uint64(i)
		}
		p, _ := m.pages.LoadOrCompute(addr/pageSize, func() *page { return &page{} })
		p.mu.Lock()
		p.data[addr%pageSize] = b
		p.mu.Unlock()
	}
}

// read fills dst starting at address. Without increment every byte is read
// from the same address.
func (m *memory) read(address uint64, dst []byte, increment bool) {
	for i := range dst {
		addr := address
		if increment {
			addr += uint64(i)
		}
		p, ok := m.pages.Load(addr / pageSize)
		if !ok {
			dst[i] = 0
			continue
		}
		p.mu.Lock()
		dst[i] = p.data[addr%pageSize]
		p.mu.Unlock()
	}
}

// pagesInUse returns the number of allocated pages
func (m *memory) pagesInUse() int {
	return m.pages.Size()
}
