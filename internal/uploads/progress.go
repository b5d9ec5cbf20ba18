package uploads

import "sync"

// Progress is the single in-flight upload slot. The worker writes it, status
// requests read it.
type Progress struct {
	mu       sync.RWMutex
	current  *string
	uploaded int64
}

// NewProgress returns an idle slot.
func NewProgress() *Progress {
	return &Progress{}
}

// Start marks eventID as in flight with zero bytes sent.
func (p *Progress) Start(eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := eventID
	p.current = &id
	p.uploaded = 0
}

// Add records n more bytes sent for the current upload.
func (p *Progress) Add(n int64) {
	p.mu.Lock()
	p.uploaded += n
	p.mu.Unlock()
}

// Reset clears the slot after completion or failure.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	p.uploaded = 0
}

// Snapshot returns the current event id (nil when idle) and bytes sent, read together.
func (p *Progress) Snapshot() (*string, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil, p.uploaded
	}
	id := *p.current
	return &id, p.uploaded
}

// Busy reports whether an upload is in flight.
func (p *Progress) Busy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current != nil
}
