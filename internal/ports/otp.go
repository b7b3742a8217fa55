package ports

import (
	"context"
	"time"
)

// OtpMailbox is a per-binding single-slot rendezvous. The ingress API
// writes, exactly one worker reads. Offer is rejected while a value is
// already pending.
type OtpMailbox interface {
	Offer(ctx context.Context, bindingID, otp string) (bool, error)
	Wait(ctx context.Context, bindingID string, timeout time.Duration) (string, error)
	Clear(ctx context.Context, bindingID string) error
}
