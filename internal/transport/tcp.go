package transport

import (
	"log/slog"

	"ptybridge/internal/handshake"
	"ptybridge/internal/infrastructure/network"
)

// TCP wraps a socket returned by network.DialTCP. The connect result is
// checked on the first read notification.
func TCP(fd int, opts Options, log *slog.Logger) *Remote {
	r := newRemote(network.NewFDConn(fd), handshake.NewParser(handshake.RoleClient), opts, log.With("transport", "tcp"))
	r.checkConnect = true
	return r
}
