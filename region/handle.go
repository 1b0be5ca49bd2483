package region

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/registry"
)

// Handle is a brokered descriptor. Its ID is minted by the gateway and has no
// relation to the kernel descriptor number.
type Handle struct {
	ID registry.ID

	// Owner is the session the descriptor arrived on. Handles outlive their
	// session, so this is only for bookkeeping.
	Owner registry.ID

	file        *os.File
	claimed     atomic.Bool
	releaseOnce sync.Once
}

// ReadAt reads from the backing descriptor.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

// Claim marks the handle as served by a region channel. Only the first call
// succeeds.
func (h *Handle) Claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

func (h *Handle) release() {
	h.releaseOnce.Do(func() {
		if err := h.file.Close(); err != nil {
			logrus.Errorf("region: error closing handle %d: %v", h.ID, err)
		}
	})
}

// Handles is the handle registry.
type Handles struct {
	table *registry.Table[*Handle]
}

// NewHandles returns an empty handle registry.
func NewHandles() *Handles {
	return &Handles{table: registry.New[*Handle]()}
}

// Mint registers f under a fresh handle id. The registry owns f from then on.
// On error f is closed.
func (hs *Handles) Mint(f *os.File, owner registry.ID) (*Handle, error) {
	id, err := hs.table.Allocate()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "region: unable to mint handle")
	}
	h := &Handle{ID: id, Owner: owner, file: f}
	hs.table.Insert(id, h)
	logrus.WithFields(logrus.Fields{"handle": id, "session": owner}).Debug("region: minted handle")
	return h, nil
}

// Lookup returns the live handle with id.
func (hs *Handles) Lookup(id registry.ID) (*Handle, bool) {
	return hs.table.Lookup(id)
}

// Release removes the handle and closes its descriptor. It reports whether
// this call released it; releasing twice is a no-op.
func (hs *Handles) Release(id registry.ID) bool {
	h, ok := hs.table.Remove(id)
	if !ok {
		return false
	}
	h.release()
	logrus.WithField("handle", id).Debug("region: released handle")
	return true
}

// Len returns the number of live handles.
func (hs *Handles) Len() int {
	return hs.table.Len()
}

// Close releases every live handle.
func (hs *Handles) Close() {
	for _, id := range hs.table.IDs() {
		hs.Release(id)
	}
}
