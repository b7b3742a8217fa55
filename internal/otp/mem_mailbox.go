package otp

import (
	"context"
	"sync"
	"time"

	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.OtpMailbox = (*MemMailbox)(nil)

type slot struct {
	ch chan string
}

// MemMailbox is the in-process rendezvous used in tests and
// single-process runs. One buffered slot per binding.
type MemMailbox struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewMemMailbox() *MemMailbox {
	return &MemMailbox{slots: make(map[string]*slot)}
}

func (m *MemMailbox) slotFor(bindingID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[bindingID]
	if !ok {
		s = &slot{ch: make(chan string, 1)}
		m.slots[bindingID] = s
	}
	return s
}

func (m *MemMailbox) Offer(ctx context.Context, bindingID, otp string) (bool, error) {
	s := m.slotFor(bindingID)
	select {
	case s.ch <- otp:
		return true, nil
	default:
		return false, nil
	}
}

func (m *MemMailbox) Wait(ctx context.Context, bindingID string, timeout time.Duration) (string, error) {
	s := m.slotFor(bindingID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-s.ch:
		return v, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *MemMailbox) Clear(ctx context.Context, bindingID string) error {
	s := m.slotFor(bindingID)
	select {
	case <-s.ch:
	default:
	}
	return nil
}
