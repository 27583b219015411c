package server

import (
	"net/http"

	"github.com/andydunstall/tether/pkg/websocket"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/transport"
	"go.uber.org/zap"
)

// WebSocketHandler returns a handler that upgrades requests to WebSockets
// and serves the connection.
//
// If the client offers the mux subprotocol the connection is served using
// the multiplexed protocol, otherwise using the server's configured
// protocol.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, transport.MuxSubprotocol)
		if err != nil {
			// Upgrade replies to the client on error.
			s.logger.Warn("failed to upgrade websocket", zap.Error(err))
			return
		}

		p := s.protocol
		if conn.Subprotocol() == transport.MuxSubprotocol {
			p = protocol.Mux
		}

		s.logger.Debug(
			"websocket connected",
			zap.String("client-ip", r.RemoteAddr),
			zap.String("protocol", p.String()),
		)

		if err := s.serveConn(conn, p); err != nil {
			s.logger.Debug("serve websocket", zap.Error(err))
		}
	})
}
