package comic

import (
	"context"
	"time"
)

// Source produces normalized strips for the endpoints it claims. A nil strip with a nil
// error is a miss.
type Source interface {
	Name() string
	Handles(endpoint string) bool
	FetchByIdentifier(ctx context.Context, endpoint, identifier string) (*Strip, error)
	FetchLatest(ctx context.Context, endpoint string) (*Strip, error)
	FetchRandom(ctx context.Context, endpoint string) (*Strip, error)
	ProxyImage(ctx context.Context, imageURL string) (Image, error)
}

// Clock abstracts wall time so sources can resolve "today" deterministically in tests.
type Clock interface {
	Now() time.Time
}

// Rand is the randomness sources draw from for random selection.
type Rand interface {
	IntN(n int) int
}
