// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/lib/codec"
	"github.com/beacon-foundation/beacon/replication"
)

// readTimeout is how long we wait for a client to send its request.
// A well-behaved client sends the request immediately after dialing.
const readTimeout = 30 * time.Second

// writeTimeout bounds a single response or stream-notification write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. 1 MB is generous for any
// registry operation; snapshots flow the other direction.
const maxRequestSize = 1024 * 1024

// Server serves the registry protocol on a TCP listener: replication
// and snapshot requests from peer nodes, subscribe streams from
// clients.
type Server struct {
	listener net.Listener
	node     *replication.PeerRegistry
	logger   *slog.Logger

	// activeConnections tracks in-flight handlers so Serve can drain
	// them before returning.
	activeConnections sync.WaitGroup
}

// NewServer listens on address (use ":0" for a random port) and
// prepares to serve the given node. Call Serve to start accepting.
func NewServer(address string, node *replication.PeerRegistry, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &Server{
		listener: listener,
		node:     node,
		logger:   logger,
	}, nil
}

// Address returns the bound address in "host:port" form.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for in-flight handlers (including open
// subscribe streams) to finish.
func (s *Server) Serve(ctx context.Context) error {
	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("registry transport listening", "address", s.Address())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection reads one request and dispatches on its action.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch header.Action {
	case ActionReplicate:
		s.handleReplicate(conn, raw)
	case ActionSnapshot:
		s.handleSnapshot(conn)
	case ActionSubscribe:
		s.handleSubscribe(ctx, conn, raw)
	case "":
		s.writeError(conn, "missing required field: action")
	default:
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
	}
}

func (s *Server) handleReplicate(conn net.Conn, raw codec.RawMessage) {
	var request replicateRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid replicate request: %v", err))
		return
	}
	s.node.ApplyReplicated(request.Mutation)
	s.writeSuccess(conn, nil)
}

func (s *Server) handleSnapshot(conn net.Conn) {
	payload, err := EncodeSnapshot(s.node.Store().Snapshot())
	if err != nil {
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, payload)
}

// handleSubscribe acknowledges the request, then streams change
// notifications until the client disconnects or the server drains.
func (s *Server) handleSubscribe(ctx context.Context, conn net.Conn, raw codec.RawMessage) {
	var request subscribeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid subscribe request: %v", err))
		return
	}

	s.writeSuccess(conn, nil)
	// The stream can stay open indefinitely; only per-write deadlines
	// apply from here.
	conn.SetReadDeadline(time.Time{})

	subscription := s.node.Store().ForInterest(request.Interest)
	defer subscription.Cancel()

	s.logger.Info("subscribe stream opened",
		"interest", request.Interest.String(),
		"client", conn.RemoteAddr(),
	)

	encoder := codec.NewEncoder(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case notification, ok := <-subscription.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := encoder.Encode(notification); err != nil {
				s.logger.Debug("subscribe stream ended",
					"client", conn.RemoteAddr(),
					"error", err,
				)
				return
			}
		}
	}
}

// writeError sends {ok: false, error: "..."}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true}, with result in the data field when
// non-nil.
func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
