package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"lightmeter/internal/history"
	"lightmeter/internal/sampling"
)

// Snapshotter is implemented by *sampling.Sampler.
type Snapshotter interface {
	Snapshot() sampling.Snapshot
}

// Server answers control requests on a Unix domain socket. It is a second
// writer of the capacity request next to the dial loop; the last write wins.
type Server struct {
	socketPath string
	requests   *sampling.CapacityRequest
	src        Snapshotter
	logger     *slog.Logger
}

// NewServer creates a control server. Call Run to start it.
func NewServer(socketPath string, requests *sampling.CapacityRequest, src Snapshotter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		requests:   requests,
		src:        src,
		logger:     logger,
	}
}

// Run listens on the socket until ctx is canceled, then closes the listener,
// every open connection, and removes the socket file.
func (s *Server) Run(ctx context.Context) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	defer listener.Close()

	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.logger.Info("control socket listening", "socket", s.socketPath)

	// Closing the listener unblocks Accept.
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("control listener closed")
				return nil
			}
			s.logger.Error("control accept error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			closeConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer closeConn()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	s.logger.Debug("control connection opened")

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		s.logger.Debug("control received", "line", string(line))

		resp := s.Handle(line)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("control failed to send response", "error", err)
			return
		}
	}

	s.logger.Debug("control connection closed")
}

// Handle decodes and executes one request line.
func (s *Server) Handle(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse("parse request: %v", err)
	}

	switch req.Type {
	case TypeStatus:
		snap := s.src.Snapshot()
		return Response{Status: StatusOK, Snapshot: &snap}

	case TypeSetCapacity:
		var data SetCapacityData
		if len(req.Data) == 0 {
			return errorResponse("set_capacity: missing data")
		}
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return errorResponse("set_capacity: %v", err)
		}
		if !s.requests.Publish(data.Capacity) {
			return errorResponse("set_capacity: capacity must be in [1, %d], got %d", history.MaxCapacity, data.Capacity)
		}
		s.logger.Info("capacity requested over control socket", "capacity", data.Capacity)
		return Response{Status: StatusOK}

	default:
		return errorResponse("unknown request type: %q", req.Type)
	}
}
