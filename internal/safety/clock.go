package safety

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injected everywhere timestamps are
// recorded so tests can pin time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator supplies transaction, conflict and record identifiers.
type IDGenerator interface {
	New() string
}

// UUIDGenerator generates random UUID strings.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
