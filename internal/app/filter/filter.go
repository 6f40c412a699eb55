// Package filter provides the filter chain for incoming gift events.
package filter

import (
	"context"
	"sort"

	"github.com/osa030/giftrank/internal/domain/gift"
)

// Kind classifies a gift event by its upstream type code.
type Kind int

const (
	KindPaid Kind = iota
	KindFree
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindFree {
		return "free"
	}
	return "paid"
}

// KindOf returns the kind of a gift event.
func KindOf(ev gift.Event) Kind {
	if ev.IsFree {
		return KindFree
	}
	return KindPaid
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "not_upcoming_target", "gift_id_too_low"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for gift event filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to the given kind of gift.
	AppliesTo(kind Kind) bool
	// Check performs the filter check.
	Check(ctx context.Context, ev gift.Event) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}

// RegisteredNames returns registered filter names in sorted order.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
