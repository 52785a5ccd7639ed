package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/tools"
)

// DefaultMaxMessageSize bounds one inbound JSON-RPC line.
const DefaultMaxMessageSize = 16 << 20

// Catalogue is the tool set the server exposes. *tools.Registry satisfies it.
type Catalogue interface {
	List() []tools.Tool
	Execute(ctx context.Context, name string, params json.RawMessage) *tools.Result
}

// Options configures a Server.
type Options struct {
	Name           string
	Version        string
	Instructions   string
	MaxMessageSize int
	Logger         *observability.Logger
}

// Server answers MCP requests read line by line from a stream. tools/call
// requests run concurrently; everything else is answered in order.
type Server struct {
	catalogue Catalogue
	opts      Options
	logger    *observability.Logger

	writeMu sync.Mutex
	out     io.Writer

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup

	initialized atomic.Bool
	warnedEarly atomic.Bool
}

// NewServer creates a server for catalogue.
func NewServer(catalogue Catalogue, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "delegator"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Server{
		catalogue: catalogue,
		opts:      opts,
		logger:    opts.Logger.WithFields("component", "mcp"),
		inflight:  make(map[string]context.CancelFunc),
	}
}

// Serve processes requests from in until it reaches EOF or ctx ends.
// In-flight tool calls are awaited on EOF and cancelled on ctx end.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), s.opts.MaxMessageSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.logger.Info(ctx, "mcp server ready", "tools", len(s.catalogue.List()))
	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			s.wg.Wait()
			return ctx.Err()
		case err := <-readErr:
			s.wg.Wait()
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			s.logger.Info(ctx, "input closed, shutting down")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			s.handleLine(ctx, line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeError(nil, &Error{Code: ErrCodeParseError, Message: "parse error: " + err.Error()})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !req.IsNotification() {
			s.writeError(req.ID, &Error{Code: ErrCodeInvalidRequest, Message: "invalid request"})
		}
		return
	}

	ctx = observability.AddRequestID(ctx, uuid.NewString())
	if req.IsNotification() {
		s.handleNotification(ctx, &req)
		return
	}
	s.logger.Debug(ctx, "mcp request", "method", req.Method, "rpc_id", string(req.ID))

	switch req.Method {
	case "initialize":
		result, rpcErr := s.initialize(ctx, req.Params)
		s.respond(req.ID, result, rpcErr)
	case "ping":
		s.writeResult(req.ID, struct{}{})
	case "tools/list":
		s.writeResult(req.ID, s.listTools())
	case "tools/call":
		s.startCall(ctx, req)
	default:
		s.writeError(req.ID, &Error{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method})
	}
}

func (s *Server) handleNotification(ctx context.Context, req *Request) {
	switch req.Method {
	case "notifications/initialized":
		s.initialized.Store(true)
		s.logger.Debug(ctx, "client initialized")
	case "notifications/cancelled":
		var params CancelledParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return
		}
		s.mu.Lock()
		cancel, ok := s.inflight[string(params.RequestID)]
		s.mu.Unlock()
		if ok {
			s.logger.Info(ctx, "request cancelled by client", "rpc_id", string(params.RequestID), "reason", params.Reason)
			cancel()
		}
	default:
		s.logger.Debug(ctx, "ignoring notification", "method", req.Method)
	}
}

func (s *Server) initialize(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid initialize params: " + err.Error()}
		}
	}
	version := negotiateVersion(params.ProtocolVersion)
	s.logger.Info(ctx, "client connected",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", version,
	)
	return InitializeResult{
		ProtocolVersion: version,
		Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		ServerInfo:      Implementation{Name: s.opts.Name, Version: s.opts.Version},
		Instructions:    s.opts.Instructions,
	}, nil
}

func (s *Server) listTools() ListToolsResult {
	catalogue := s.catalogue.List()
	out := ListToolsResult{Tools: make([]Tool, 0, len(catalogue))}
	for _, t := range catalogue {
		out.Tools = append(out.Tools, Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return out
}

// startCall runs tools/call in its own goroutine so a slow tool does not
// block pings or cancellations.
func (s *Server) startCall(ctx context.Context, req Request) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		msg := "tools/call requires a tool name"
		if err != nil {
			msg = "invalid tools/call params: " + err.Error()
		}
		s.writeError(req.ID, &Error{Code: ErrCodeInvalidParams, Message: msg})
		return
	}
	if !s.initialized.Load() && s.warnedEarly.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "tools/call before notifications/initialized", "tool", params.Name)
	}

	callCtx, cancel := context.WithCancel(ctx)
	key := string(req.ID)
	s.mu.Lock()
	s.inflight[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			cancel()
		}()

		result := s.catalogue.Execute(callCtx, params.Name, params.Arguments)
		if errors.Is(callCtx.Err(), context.Canceled) && ctx.Err() == nil {
			// The client gave up on this request; no response is expected.
			return
		}
		s.writeResult(req.ID, ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: result.Content}},
			IsError: result.IsError,
		})
	}()
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.inflight {
		cancel()
	}
}

func (s *Server) respond(id json.RawMessage, result any, rpcErr *Error) {
	if rpcErr != nil {
		s.writeError(id, rpcErr)
		return
	}
	s.writeResult(id, result)
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, rpcErr *Error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	s.write(Response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func (s *Server) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &Error{Code: ErrCodeInternalError, Message: "marshal response: " + err.Error()},
		})
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error(context.Background(), "write response failed", "error", err)
	}
}
