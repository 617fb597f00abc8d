package hostclient

import (
	"context"
	"fmt"

	"github.com/nmslite/docwriter/internal/roster"
)

// StaticForestConfig is a fixed topology oracle for the demo binary and
// tests: it always reports the same host list, each treated as its own
// writable shard. Production deployments supply a ForestConfiguration that
// actually observes cluster state.
type StaticForestConfig struct {
	Hosts []string
}

// Forests implements roster.ForestConfiguration.
func (s StaticForestConfig) Forests(ctx context.Context) ([]roster.Forest, error) {
	forests := make([]roster.Forest, len(s.Hosts))
	for i, h := range s.Hosts {
		forests[i] = roster.Forest{DatabaseName: h, Host: h}
	}
	return forests, nil
}

// Factory mints an HTTP-based hostclient.Client for host, using baseURLFmt
// (a fmt.Sprintf pattern with one %s for the host) to build its base URL.
func Factory(baseURLFmt string) roster.HostFactory {
	return func(host string) roster.HostClient {
		return New(host, fmt.Sprintf(baseURLFmt, host), nil)
	}
}
