// Package lease provides named locks with an owner and an expiry. They keep
// two processes sharing one store from draining the upload queue or syncing
// reference data at the same time. An expired lease can be taken over, so a
// crashed holder never blocks the others for longer than the TTL.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Well-known lease names
const (
	UploadDrain   = "upload-drain"
	ReferenceSync = "reference-sync"
)

// Locker acquires and releases leases on behalf of a single owner
type Locker interface {
	// TryAcquire takes the lease or extends it when already held by this
	// owner. It reports false when another owner holds an unexpired lease.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release gives the lease up if this owner holds it
	Release(ctx context.Context, name string) error
	// Owner identifies this locker
	Owner() string
}

// NewOwnerID returns a random owner id
func NewOwnerID() string {
	return uuid.NewString()
}
