package api

import (
	"sync"

	"github.com/SimplyPrint/card-bridge/internal/core"
)

// fakeBridge is a scriptable CardBridge. Statuses are returned in order,
// repeating the last one.
type fakeBridge struct {
	mu sync.Mutex

	statuses    []core.Status
	statusCalls int

	readers []core.Reader
	listErr error

	writeErr error
	writes   []core.WriteRequest

	diagnosis *core.Diagnosis
	diagErr   error

	memory    []byte
	readErr   error
	readCalls [][2]int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		statuses: []core.Status{{Status: core.StatusOnline}},
	}
}

func (f *fakeBridge) ListReaders() ([]core.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]core.Reader{}, f.readers...), nil
}

func (f *fakeBridge) ProbeStatus() core.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.statusCalls, len(f.statuses)-1)
	f.statusCalls++
	return f.statuses[i]
}

func (f *fakeBridge) WriteCard(req core.WriteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, req)
	return f.writeErr
}

func (f *fakeBridge) Diagnose() (*core.Diagnosis, error) {
	return f.diagnosis, f.diagErr
}

func (f *fakeBridge) ReadMemory(address, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, [2]int{address, length})
	return f.memory, f.readErr
}

func (f *fakeBridge) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func readerStatus(name string) core.Status {
	return core.Status{Status: core.StatusOnline, Reader: &name, Ready: true}
}
