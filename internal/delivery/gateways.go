package delivery

import (
	"sync"

	"github.com/wolfman30/messaging-service/internal/messaging"
)

// Gateways maps channel families to provider gateways. sms and mms share one
// entry.
type Gateways struct {
	mu       sync.RWMutex
	byFamily map[string]messaging.Gateway
}

func NewGateways() *Gateways {
	return &Gateways{byFamily: make(map[string]messaging.Gateway)}
}

// Register installs gw for channel's family. A nil gateway removes it.
func (g *Gateways) Register(channel messaging.Channel, gw messaging.Gateway) *Gateways {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gw == nil {
		delete(g.byFamily, channel.Family())
		return g
	}
	g.byFamily[channel.Family()] = gw
	return g
}

// For returns the gateway for channel or an UnsupportedChannelError.
func (g *Gateways) For(channel messaging.Channel) (messaging.Gateway, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	gw, ok := g.byFamily[channel.Family()]
	if !ok {
		return nil, &messaging.UnsupportedChannelError{Channel: string(channel)}
	}
	return gw, nil
}

// SupportsChannel reports whether a gateway is registered for channel's family.
func (g *Gateways) SupportsChannel(channel messaging.Channel) bool {
	_, err := g.For(channel)
	return err == nil
}
