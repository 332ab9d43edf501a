package alert

import (
	"fmt"

	"github.com/vigildev/vigil/internal/config"
)

// Build constructs one delivery channel per configuration entry. An
// unrecognized channel type is a configuration error and aborts
// construction rather than being skipped silently.
func Build(cfgs []config.ChannelConfig) ([]Channel, error) {
	channels := make([]Channel, 0, len(cfgs))
	for i, cfg := range cfgs {
		switch cfg.Type {
		case "chat":
			channels = append(channels, NewChatChannel(cfg))
		case "webhook":
			channels = append(channels, NewWebhookChannel(cfg))
		case "email":
			channels = append(channels, NewEmailChannel(cfg))
		default:
			return nil, fmt.Errorf("alert channel %d: unknown type %q", i, cfg.Type)
		}
	}
	return channels, nil
}
