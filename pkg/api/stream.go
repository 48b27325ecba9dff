package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fleetmon/fleetmon/pkg/aggregate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST surface is already open cross-origin; the streams match.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamFleet upgrades to a websocket and pushes fleet snapshots until
// the client disconnects.
func (s *Server) streamFleet(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stop := s.publisher.SubscribeFleet(ctx, func(snap aggregate.FleetSnapshot) {
		if err := conn.WriteJSON(snap); err != nil {
			cancel()
		}
	})
	defer stop()

	s.readUntilClose(conn, cancel)
}

// streamGroup is streamFleet scoped to one group subtree.
func (s *Server) streamGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stop, err := s.publisher.SubscribeGroup(ctx, groupID, func(snap aggregate.GroupSnapshot) {
		if err := conn.WriteJSON(snap); err != nil {
			cancel()
		}
	})
	if err != nil {
		s.log.Error().Err(err).Int64("group_id", groupID).Msg("Group subscription failed")
		return
	}
	defer stop()

	s.readUntilClose(conn, cancel)
}

// readUntilClose drains incoming frames so the read side surfaces the
// client disconnect; the connection carries no meaningful client-to-
// server traffic.
func (s *Server) readUntilClose(conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}
