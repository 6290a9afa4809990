package selection

import "github.com/me/orchestra/pkg/model"

// Strategy picks a resource from the candidates of a request.
//
// Strategies are combined into a Chain and tried in order; the first one to
// return a resource wins.
type Strategy interface {
	// Name is used in logs and as the selection reason.
	Name() string

	// Select returns the chosen candidate and a reason, or nil when the
	// strategy does not apply.
	Select(req *Request) (*model.Resource, string)
}

// Request is one selection: the task and the eligible candidates in stable
// registry order.
type Request struct {
	Task       model.Task
	Candidates []model.Resource
}

// Chain tries strategies in order.
type Chain struct {
	strategies []Strategy
}

// NewChain creates a chain from strategies.
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Select returns the first strategy's pick.
func (c *Chain) Select(req *Request) (*model.Resource, string) {
	for _, s := range c.strategies {
		if res, reason := s.Select(req); res != nil {
			return res, reason
		}
	}
	return nil, "no_strategy_matched"
}

// Strategies returns a copy of the chain's strategies.
func (c *Chain) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// DefaultChain is affinity, then size for fast/quality task types, then an
// explicit speed/reliability hint, then the blended score.
func DefaultChain(affinity map[string][]string) *Chain {
	return NewChain(
		NewAffinityStrategy(affinity),
		SizeStrategy{},
		PriorityStrategy{},
		ScoreStrategy{},
	)
}
