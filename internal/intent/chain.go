package intent

import (
	"context"
	"errors"

	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

// Chain tries each extractor in order and returns the first recognized
// intent. Transport failures fall through to the next extractor.
type Chain struct {
	extractors []Extractor
	logger     *logging.Logger
}

func NewChain(logger *logging.Logger, extractors ...Extractor) *Chain {
	if logger == nil {
		logger = logging.Default()
	}
	return &Chain{extractors: extractors, logger: logger.Component("intent")}
}

func (c *Chain) Parse(ctx context.Context, text string) (Intent, error) {
	for _, e := range c.extractors {
		in, err := e.Parse(ctx, text)
		if err == nil {
			return in, nil
		}
		if !errors.Is(err, ErrUnrecognized) {
			c.logger.Warn().Err(err).Msg("intent extractor failed, falling back")
		}
		if ctx.Err() != nil {
			return Intent{}, ctx.Err()
		}
	}
	return Intent{}, ErrUnrecognized
}
