// Package command decodes side-channel command packets and dispatches them
// to registered handlers. The remote process uses these to ask the client to
// open local ports or browser tabs.
package command

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Command names the remote may send.
const (
	NameOpen    = "open"    // open;<port>     expose a local port to the remote service
	NameForward = "forward" // forward;<port>  forward a local port
	NameBrowser = "browser" // browser;<url>   open a URL in the local browser
)

// PortHandler reacts to open/forward commands. name is the command that
// carried the port.
type PortHandler func(name string, port int) error

// URLHandler reacts to browser commands. The URL is passed through as a
// literal string without escaping.
type URLHandler func(url string) error

// Observer sees every successfully parsed command (name plus raw argument),
// for caller-level hooks such as UI notifications. May be nil.
type Observer func(name, arg string)

// Router dispatches decoded commands. Unrecognized names are logged and
// dropped; nothing a remote sends here can be fatal.
type Router struct {
	onPort   PortHandler
	onURL    URLHandler
	observer Observer
}

// NewRouter creates a router. Any handler may be nil, in which case the
// matching commands are logged and ignored.
func NewRouter(onPort PortHandler, onURL URLHandler, observer Observer) *Router {
	return &Router{onPort: onPort, onURL: onURL, observer: observer}
}

// OnCommandPacket decodes a command payload and invokes the matching
// handler. The payload is UTF-8 text of the form "name;arg" with a single
// split: arguments cannot themselves contain the delimiter. This is a known
// wire-format limitation, kept as-is because changing it requires
// coordinating with the remote side; for browser URLs everything after the
// first ';' is taken verbatim, so URLs containing ';' survive.
func (r *Router) OnCommandPacket(payload []byte) {
	text := string(payload)
	name, arg, ok := strings.Cut(text, ";")
	if !ok {
		slog.Warn("command packet without delimiter", slog.String("payload", text))
		return
	}

	if r.observer != nil {
		r.observer(name, arg)
	}

	switch name {
	case NameOpen, NameForward:
		if err := r.dispatchPort(name, arg); err != nil {
			slog.Warn("port command failed",
				slog.String("command", name),
				slog.String("arg", arg),
				slog.String("error", err.Error()),
			)
		}
	case NameBrowser:
		if r.onURL == nil {
			slog.Debug("browser command with no handler", slog.String("url", arg))
			return
		}
		if err := r.onURL(arg); err != nil {
			slog.Warn("browser command failed",
				slog.String("url", arg),
				slog.String("error", err.Error()),
			)
		}
	default:
		slog.Warn("unrecognized command dropped", slog.String("command", name))
	}
}

func (r *Router) dispatchPort(name, arg string) error {
	port, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("parse port %q: %w", arg, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	if r.onPort == nil {
		slog.Debug("port command with no handler", slog.String("command", name), slog.Int("port", port))
		return nil
	}
	return r.onPort(name, port)
}
