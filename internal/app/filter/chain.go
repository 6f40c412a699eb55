package filter

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/giftrank/internal/domain/gift"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Setting is the enabled flag and raw settings of one filter.
type Setting struct {
	Enabled  bool
	Settings map[string]any
}

// Build creates a chain from registered filters, in name order.
// Disabled or unconfigured filters are skipped.
func Build(settings map[string]Setting) (*Chain, error) {
	c := NewChain()
	for _, name := range RegisteredNames() {
		s, ok := settings[name]
		if !ok || !s.Enabled {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(s.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		c.Add(f)
	}
	for name := range settings {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the event.
// Filters are only applied if they declare they apply to the event's kind.
func (c *Chain) Execute(ctx context.Context, ev gift.Event) Result {
	kind := KindOf(ev)
	for _, f := range c.filters {
		if !f.AppliesTo(kind) {
			continue
		}

		result := f.Check(ctx, ev)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
