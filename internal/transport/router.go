package transport

import (
	"context"
	"log/slog"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
)

// Link names used in registry entries.
const (
	LinkHTTP      = "http"
	LinkWebSocket = "websocket"
	LinkSerial    = "serial"
)

// Router picks the transport for each node from the registry. Offline nodes
// fail fast without touching the link. The registry's Address, when set,
// replaces the node id on the wire.
type Router struct {
	registry registry.Registry
	links    map[string]Transport
	fallback string
	logger   *slog.Logger
}

// NewRouter creates a router. links maps link names to transports;
// fallback names the link used for nodes that do not name one.
func NewRouter(reg registry.Registry, links map[string]Transport, fallback string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{registry: reg, links: links, fallback: fallback, logger: logger}
}

// Send implements Transport.
func (r *Router) Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error) {
	node, ok := r.registry.Node(targetID)
	if !ok {
		return nil, &NodeError{Target: targetID, Msg: "not in node registry", Err: ErrUnreachable}
	}

	if !node.Online {
		return nil, &NodeError{Target: targetID, Msg: "registry reports node offline", Err: ErrOffline}
	}

	name := node.Transport
	if name == "" {
		name = r.fallback
	}

	link, ok := r.links[name]
	if !ok || link == nil {
		return nil, &NodeError{Target: targetID, Msg: "no transport configured for link " + quoteOrDefault(name), Err: ErrUnreachable}
	}

	addr := node.Address
	if addr == "" {
		addr = targetID
	}

	r.logger.Debug("routing schedule sync",
		slog.String("node", targetID),
		slog.String("link", name),
		slog.String("address", addr),
		slog.Int("schedules", len(msg.Schedules)),
	)

	ack, err := link.Send(ctx, addr, msg)
	if err != nil {
		return nil, err
	}

	return ack, nil
}

func quoteOrDefault(name string) string {
	if name == "" {
		return "(default)"
	}

	return `"` + name + `"`
}
