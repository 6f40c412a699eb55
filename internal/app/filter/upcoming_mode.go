package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/domain/gift"
)

// UpcomingModeConfig represents the configuration for UpcomingModeFilter.
type UpcomingModeConfig struct {
	TargetGiftIDs []int64 `yaml:"target_gift_ids" mapstructure:"target_gift_ids" default:"[1601,3000751,3000752]" validate:"min=1,dive,gt=0"`
}

// UpcomingModeFilter accepts only a fixed set of free gifts. Paid gifts always pass.
type UpcomingModeFilter struct {
	targets map[int64]struct{}
}

// NewUpcomingModeFilter creates a new upcoming mode filter with default targets.
func NewUpcomingModeFilter() *UpcomingModeFilter {
	f := &UpcomingModeFilter{}
	f.setTargets(DefaultUpcomingTargets)
	return f
}

func (f *UpcomingModeFilter) Name() string {
	return "upcoming_mode_filter"
}

func (f *UpcomingModeFilter) Description() string {
	return "Accepts only target free gifts while in upcoming mode"
}

func (f *UpcomingModeFilter) ReturnCodes() []string {
	return []string{"not_upcoming_target"}
}

func (f *UpcomingModeFilter) ValidateConfig(settings map[string]any) error {
	var config UpcomingModeConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.setTargets(config.TargetGiftIDs)
	zlog.Info().Msgf("upcoming mode filter config: %+v", config)
	return nil
}

func (f *UpcomingModeFilter) setTargets(ids []int64) {
	f.targets = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		f.targets[id] = struct{}{}
	}
}

func (f *UpcomingModeFilter) AppliesTo(kind Kind) bool {
	return kind == KindFree
}

func (f *UpcomingModeFilter) Check(ctx context.Context, ev gift.Event) Result {
	if _, ok := f.targets[ev.GiftID]; ok {
		return Accept()
	}
	return Reject("not_upcoming_target")
}

// DefaultUpcomingTargets are the free gifts counted in upcoming mode.
var DefaultUpcomingTargets = []int64{1601, 3000751, 3000752}

func init() {
	Register("upcoming_mode_filter", func() Filter {
		return NewUpcomingModeFilter()
	})
}
