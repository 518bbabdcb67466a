package messaging

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

// StubGateway logs instead of sending and always reports 200. Used when no
// provider credentials are configured.
type StubGateway struct {
	name   string
	logger *logging.Logger
}

// NewStubGateway creates a stub labelled with the channel family it stands in for.
func NewStubGateway(name string, logger *logging.Logger) *StubGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubGateway{name: name, logger: logger}
}

func (g *StubGateway) Deliver(_ context.Context, msg *Message) (SendResult, error) {
	g.logger.Info("stub gateway accepted message",
		"gateway", g.name,
		"message_id", msg.ID,
		"channel", msg.Channel,
		"to", msg.To.Address,
	)
	return SendResult{StatusCode: http.StatusOK, ProviderMessageID: "stub-" + uuid.NewString()}, nil
}
