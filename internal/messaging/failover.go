package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

// FailoverGateway sends through a primary provider and falls back to a
// secondary one when the primary could not be reached or answered 5xx.
// Any other answer from the primary is final.
type FailoverGateway struct {
	primary       Gateway
	secondary     Gateway
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

// NewFailoverGateway builds a failover gateway with named providers.
func NewFailoverGateway(primary Gateway, primaryName string, secondary Gateway, secondaryName string, logger *logging.Logger) *FailoverGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverGateway{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ Gateway = (*FailoverGateway)(nil)

func (f *FailoverGateway) Deliver(ctx context.Context, msg *Message) (SendResult, error) {
	if f == nil || f.primary == nil {
		return SendResult{}, errors.New("messaging: failover primary gateway not configured")
	}
	result, err := f.primary.Deliver(ctx, msg)
	if err == nil && result.StatusCode < 500 {
		return result, nil
	}
	if f.secondary == nil || ctx.Err() != nil {
		return result, err
	}
	f.logger.Warn("primary provider failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"status_code", result.StatusCode,
		"error", err,
		"message_id", msg.ID,
	)
	return f.secondary.Deliver(ctx, msg)
}
