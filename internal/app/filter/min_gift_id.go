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

// MinGiftIDConfig represents the configuration for MinGiftIDFilter.
type MinGiftIDConfig struct {
	MinGiftID int64 `yaml:"min_gift_id" mapstructure:"min_gift_id" default:"1000" validate:"gte=0"`
}

// MinGiftIDFilter rejects gifts whose ID is at or below a threshold.
type MinGiftIDFilter struct {
	config *MinGiftIDConfig
}

// NewMinGiftIDFilter creates a new minimum gift ID filter.
func NewMinGiftIDFilter() *MinGiftIDFilter {
	return &MinGiftIDFilter{}
}

func (f *MinGiftIDFilter) Name() string {
	return "min_gift_id_filter"
}

func (f *MinGiftIDFilter) Description() string {
	return "Rejects gifts whose ID is not above the configured minimum"
}

func (f *MinGiftIDFilter) ReturnCodes() []string {
	return []string{"gift_id_too_low"}
}

func (f *MinGiftIDFilter) ValidateConfig(settings map[string]any) error {
	var config MinGiftIDConfig

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

	f.config = &config
	zlog.Info().Msgf("min gift id filter config: %+v", config)
	return nil
}

func (f *MinGiftIDFilter) AppliesTo(kind Kind) bool {
	return true
}

func (f *MinGiftIDFilter) Check(ctx context.Context, ev gift.Event) Result {
	// If config is not set, accept all gifts
	if f.config == nil {
		return Accept()
	}
	if ev.GiftID <= f.config.MinGiftID {
		return Reject("gift_id_too_low")
	}
	return Accept()
}

func init() {
	Register("min_gift_id_filter", func() Filter {
		return NewMinGiftIDFilter()
	})
}
