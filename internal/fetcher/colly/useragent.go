package collyfetcher

import "math/rand/v2"

// DefaultUserAgents is the identity pool rotated across attempts.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

type agentPool struct {
	agents []string
}

func newAgentPool(agents []string) *agentPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &agentPool{agents: append([]string(nil), agents...)}
}

func (p *agentPool) pick() string {
	return p.agents[rand.IntN(len(p.agents))]
}
