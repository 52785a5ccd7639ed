package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/tools"
)

type fakeTool struct {
	name string
}

func (f fakeTool) Name() string            { return f.name }
func (f fakeTool) Description() string     { return "does " + f.name }
func (f fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f fakeTool) Execute(context.Context, json.RawMessage) (*tools.Result, error) {
	return nil, nil
}

type fakeCatalogue struct {
	mu      sync.Mutex
	calls   []string
	block   bool
	started chan struct{}
	ctxErr  error
}

func (f *fakeCatalogue) List() []tools.Tool {
	return []tools.Tool{fakeTool{name: "echo"}, fakeTool{name: "fail"}}
}

func (f *fakeCatalogue) Execute(ctx context.Context, name string, params json.RawMessage) *tools.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.block {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return &tools.Result{Content: "cancelled", IsError: true}
	}
	if name == "fail" {
		return &tools.Result{Content: `{"ok":false}`, IsError: true}
	}
	return &tools.Result{Content: "echo:" + string(params)}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) responses(t *testing.T) map[string]Response {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Response)
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var resp struct {
			Response
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		resp.Response.Result = resp.Result
		out[string(resp.ID)] = resp.Response
	}
	return out
}

func serve(t *testing.T, cat Catalogue, input string) map[string]Response {
	t.Helper()
	out := &syncBuffer{}
	srv := NewServer(cat, Options{Version: "test"})
	if err := srv.Serve(context.Background(), strings.NewReader(input), out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	return out.responses(t)
}

func resultInto(t *testing.T, resp Response, v any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, ok := resp.Result.(json.RawMessage)
	if !ok {
		t.Fatalf("result is %T", resp.Result)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestServeSession(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":"call-1","method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"fail"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{}}`,
		``,
	}, "\n")
	cat := &fakeCatalogue{}
	responses := serve(t, cat, input)

	var init InitializeResult
	resultInto(t, responses["1"], &init)
	if init.ProtocolVersion != "2024-11-05" || init.ServerInfo.Name != "delegator" || init.ServerInfo.Version != "test" {
		t.Fatalf("initialize = %+v", init)
	}
	if init.Capabilities.Tools == nil {
		t.Fatalf("tools capability missing")
	}

	if _, ok := responses["2"]; !ok || responses["2"].Error != nil {
		t.Fatalf("ping response = %+v", responses["2"])
	}

	var list ListToolsResult
	resultInto(t, responses["3"], &list)
	if len(list.Tools) != 2 || list.Tools[0].Name != "echo" || string(list.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Fatalf("tools/list = %+v", list)
	}

	var call ToolCallResult
	resultInto(t, responses[`"call-1"`], &call)
	if call.IsError || len(call.Content) != 1 || call.Content[0].Text != `echo:{"x":1}` || call.Content[0].Type != "text" {
		t.Fatalf("tools/call = %+v", call)
	}

	var failed ToolCallResult
	resultInto(t, responses["5"], &failed)
	if !failed.IsError {
		t.Fatalf("failed tool should set isError")
	}

	if e := responses["6"].Error; e == nil || e.Code != ErrCodeMethodNotFound {
		t.Fatalf("unknown method = %+v", responses["6"])
	}
	if e := responses["7"].Error; e == nil || e.Code != ErrCodeInvalidParams {
		t.Fatalf("missing tool name = %+v", responses["7"])
	}
	if len(responses) != 7 {
		t.Fatalf("got %d responses, notifications must not be answered", len(responses))
	}
}

func TestServeMalformedInput(t *testing.T) {
	input := "not json\n" + `{"jsonrpc":"1.0","id":9,"method":"ping"}` + "\n"
	responses := serve(t, &fakeCatalogue{}, input)

	if e := responses["null"].Error; e == nil || e.Code != ErrCodeParseError {
		t.Fatalf("parse error = %+v", responses["null"])
	}
	if e := responses["9"].Error; e == nil || e.Code != ErrCodeInvalidRequest {
		t.Fatalf("invalid request = %+v", responses["9"])
	}
}

func TestServeCancelledCall(t *testing.T) {
	cat := &fakeCatalogue{block: true, started: make(chan struct{})}
	in, writer := io.Pipe()
	out := &syncBuffer{}
	srv := NewServer(cat, Options{})

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), in, out) }()

	write := func(line string) {
		if _, err := io.WriteString(writer, line+"\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"echo"}}`)
	select {
	case <-cat.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("tool never started")
	}
	write(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":11,"reason":"user"}}`)
	write(`{"jsonrpc":"2.0","id":12,"method":"ping"}`)
	_ = writer.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}

	responses := out.responses(t)
	if _, ok := responses["11"]; ok {
		t.Fatalf("cancelled request must not be answered")
	}
	if _, ok := responses["12"]; !ok {
		t.Fatalf("ping after cancel not answered")
	}
	if !errors.Is(cat.ctxErr, context.Canceled) {
		t.Fatalf("tool ctx error = %v", cat.ctxErr)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	cat := &fakeCatalogue{block: true, started: make(chan struct{})}
	in, writer := io.Pipe()
	defer writer.Close()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(cat, Options{})

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, in, &syncBuffer{}) }()

	if _, err := io.WriteString(writer, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-cat.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop")
	}
	if !errors.Is(cat.ctxErr, context.Canceled) {
		t.Fatalf("in-flight call was not cancelled")
	}
}

func TestCallBeforeInitializedWarnsOnce(t *testing.T) {
	tests := []struct {
		name  string
		input string
		warns int
	}{
		{
			name: "uninitialized client",
			input: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}` + "\n" +
				`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}` + "\n",
			warns: 1,
		},
		{
			name: "initialized client",
			input: `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
				`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}` + "\n",
			warns: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs syncBuffer
			srv := NewServer(&fakeCatalogue{}, Options{
				Logger: observability.NewLogger(observability.LogConfig{Output: &logs}),
			})
			if err := srv.Serve(context.Background(), strings.NewReader(tt.input), io.Discard); err != nil {
				t.Fatalf("Serve() error = %v", err)
			}
			logs.mu.Lock()
			got := strings.Count(logs.buf.String(), "tools/call before notifications/initialized")
			logs.mu.Unlock()
			if got != tt.warns {
				t.Fatalf("warnings = %d, want %d", got, tt.warns)
			}
		})
	}
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{"1999-01-01", supportedVersions[0]},
		{"", supportedVersions[0]},
	}
	for _, tc := range tests {
		if got := negotiateVersion(tc.requested); got != tc.want {
			t.Errorf("negotiateVersion(%q) = %q, want %q", tc.requested, got, tc.want)
		}
	}
}
