package server

import (
	"github.com/andydunstall/tether/protocol"
)

// Status is a snapshot of the connections being served.
type Status struct {
	Protocol string `json:"protocol"`
	// Connections is the number of open connections by protocol. A TLS
	// connection is counted under the protocol negotiated with ALPN.
	Connections  map[string]int64 `json:"connections"`
	ShuttingDown bool             `json:"shutting_down"`
}

func (s *Server) Status() Status {
	conns := make(map[string]int64, len(s.active))
	for _, p := range []protocol.Protocol{protocol.HTTP1, protocol.HTTP2, protocol.Mux} {
		conns[p.String()] = s.active[p].Load()
	}
	return Status{
		Protocol:     s.protocol.String(),
		Connections:  conns,
		ShuttingDown: s.shutdown.Load(),
	}
}
