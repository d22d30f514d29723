package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/shepherd/config"
	"github.com/zhubert/shepherd/manager"
	"github.com/zhubert/shepherd/process"
	"github.com/zhubert/shepherd/session"
)

type stubHandle struct {
	spec process.Spec

	mu     sync.Mutex
	writes []string
	alive  bool
}

func (h *stubHandle) Start() error {
	h.mu.Lock()
	h.alive = true
	h.mu.Unlock()
	return nil
}

func (h *stubHandle) WaitReady(timeout time.Duration) error { return nil }

func (h *stubHandle) Write(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.alive {
		return process.ErrNotAlive
	}
	h.writes = append(h.writes, text)
	return nil
}

func (h *stubHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *stubHandle) Pid() int { return 9999 }

func (h *stubHandle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	wasAlive := h.alive
	h.alive = false
	h.mu.Unlock()
	if wasAlive && h.spec.OnExit != nil {
		h.spec.OnExit(0, nil)
	}
	return nil
}

func (h *stubHandle) emitLine(line string) {
	if h.spec.OnLine != nil {
		h.spec.OnLine(line)
	}
}

type stubSink struct {
	mu      sync.Mutex
	handles map[string]*stubHandle
}

func (s *stubSink) factory(spec process.Spec) (manager.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &stubHandle{spec: spec}
	if len(spec.Args) >= 2 {
		s.handles[spec.Args[1]] = h
	}
	return h, nil
}

func (s *stubSink) get(t *testing.T, id string) *stubHandle {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		h, ok := s.handles[id]
		s.mu.Unlock()
		if ok {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no handle for session %s", id)
	return nil
}

// testClient drives the server over in-process pipes, one request at a time.
type testClient struct {
	t      *testing.T
	in     *io.PipeWriter
	out    *bufio.Scanner
	nextID int
}

func newTestClient(t *testing.T) (*testClient, *manager.Supervisor, *stubSink) {
	t.Helper()

	cfg := config.Default()
	cfg.QuiescenceMS = 20

	sink := &stubSink{handles: make(map[string]*stubHandle)}
	sup, err := manager.New(cfg, manager.WithHandleFactory(sink.factory))
	if err != nil {
		t.Fatalf("manager.New failed: %v", err)
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := NewServer(inR, outW, sup)
	go srv.Run()
	t.Cleanup(func() { inW.Close() })

	return &testClient{t: t, in: inW, out: bufio.NewScanner(outR)}, sup, sink
}

func (c *testClient) call(method string, params any) JSONRPCResponse {
	c.t.Helper()
	c.nextID++

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	if _, err := c.in.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write request: %v", err)
	}

	if !c.out.Scan() {
		c.t.Fatalf("no response for %s: %v", method, c.out.Err())
	}
	var resp JSONRPCResponse
	if err := json.Unmarshal(c.out.Bytes(), &resp); err != nil {
		c.t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

// toolCall invokes a tool and returns the text content plus the isError flag.
func (c *testClient) toolCall(name string, args map[string]any) (string, bool) {
	c.t.Helper()
	resp := c.call("tools/call", map[string]any{"name": name, "arguments": args})
	if resp.Error != nil {
		c.t.Fatalf("tools/call %s returned RPC error: %+v", name, resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		c.t.Fatalf("tools/call %s result has type %T", name, resp.Result)
	}
	isError, _ := result["isError"].(bool)
	content, _ := result["content"].([]any)
	if len(content) == 0 {
		c.t.Fatalf("tools/call %s returned no content", name)
	}
	item, _ := content[0].(map[string]any)
	text, _ := item["text"].(string)
	return text, isError
}

func TestInitialize(t *testing.T) {
	c, _, _ := newTestClient(t)

	resp := c.call("initialize", map[string]any{})
	if resp.Error != nil {
		t.Fatalf("initialize returned error: %+v", resp.Error)
	}
	result, _ := resp.Result.(map[string]any)
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != ServerName {
		t.Errorf("serverInfo.name = %v, want %q", info["name"], ServerName)
	}
}

func TestToolsList(t *testing.T) {
	c, _, _ := newTestClient(t)

	resp := c.call("tools/list", nil)
	result, _ := resp.Result.(map[string]any)
	tools, _ := result["tools"].([]any)
	if len(tools) != 8 {
		t.Fatalf("tools/list returned %d tools, want 8", len(tools))
	}

	names := make(map[string]bool)
	for _, tool := range tools {
		def, _ := tool.(map[string]any)
		name, _ := def["name"].(string)
		names[name] = true
	}
	for _, want := range []string{
		"create_session", "list_sessions", "get_session", "send_message",
		"get_logs", "terminate_session", "check_prompts", "respond_to_prompt",
	} {
		if !names[want] {
			t.Errorf("tools/list missing %s", want)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	c, _, _ := newTestClient(t)

	resp := c.call("bogus/method", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("unknown method error = %+v, want code -32601", resp.Error)
	}
}

func TestUnknownTool(t *testing.T) {
	c, _, _ := newTestClient(t)

	resp := c.call("tools/call", map[string]any{"name": "bogus_tool"})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("unknown tool error = %+v, want code -32602", resp.Error)
	}
}

func TestUnknownSessionIsToolError(t *testing.T) {
	c, _, _ := newTestClient(t)

	text, isError := c.toolCall("get_session", map[string]any{"session_id": "nope"})
	if !isError {
		t.Error("get_session for unknown id should set isError")
	}
	if !strings.Contains(text, "not found") {
		t.Errorf("error text = %q, want a not-found message", text)
	}
}

func TestSessionLifecycleOverTools(t *testing.T) {
	c, _, sink := newTestClient(t)

	text, isError := c.toolCall("create_session", map[string]any{
		"name":        "worker",
		"working_dir": t.TempDir(),
	})
	if isError {
		t.Fatalf("create_session failed: %s", text)
	}
	var created session.Status
	if err := json.Unmarshal([]byte(text), &created); err != nil {
		t.Fatalf("create_session payload: %v", err)
	}
	if created.ID == "" || created.Name != "worker" {
		t.Fatalf("created = %+v", created)
	}

	h := sink.get(t, created.ID)

	// Poll until the asynchronous spawn finishes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		text, _ = c.toolCall("get_session", map[string]any{"session_id": created.ID})
		var st session.Status
		if err := json.Unmarshal([]byte(text), &st); err != nil {
			t.Fatalf("get_session payload: %v", err)
		}
		if st.State == session.StateActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never became active, state = %v", st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if text, isError = c.toolCall("send_message", map[string]any{
		"session_id": created.ID,
		"message":    "hello there",
	}); isError {
		t.Fatalf("send_message failed: %s", text)
	}

	h.emitLine("assistant says hi")
	text, _ = c.toolCall("get_logs", map[string]any{"session_id": created.ID, "full": true})
	if !strings.Contains(text, "USER: hello there") || !strings.Contains(text, "assistant says hi") {
		t.Errorf("logs = %q, want transcript and output", text)
	}

	if text, isError = c.toolCall("terminate_session", map[string]any{
		"session_id": created.ID,
	}); isError {
		t.Fatalf("terminate_session failed: %s", text)
	}

	text, _ = c.toolCall("get_session", map[string]any{"session_id": created.ID})
	var final session.Status
	if err := json.Unmarshal([]byte(text), &final); err != nil {
		t.Fatalf("get_session payload: %v", err)
	}
	if final.State != session.StateTerminated {
		t.Errorf("final state = %v, want terminated", final.State)
	}
}

func TestPromptFlowOverTools(t *testing.T) {
	c, _, sink := newTestClient(t)

	text, _ := c.toolCall("create_session", map[string]any{"working_dir": t.TempDir()})
	var created session.Status
	if err := json.Unmarshal([]byte(text), &created); err != nil {
		t.Fatalf("create_session payload: %v", err)
	}
	h := sink.get(t, created.ID)

	// Wait for active, then emit a prompt-looking line.
	deadline := time.Now().Add(2 * time.Second)
	for {
		text, _ = c.toolCall("get_session", map[string]any{"session_id": created.ID})
		var st session.Status
		json.Unmarshal([]byte(text), &st)
		if st.State == session.StateActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.emitLine("Overwrite existing file? [y/n]")

	var pending struct {
		PendingPrompts []struct {
			SessionID string `json:"session_id"`
			Prompt    string `json:"prompt"`
		} `json:"pending_prompts"`
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		text, _ = c.toolCall("check_prompts", nil)
		if err := json.Unmarshal([]byte(text), &pending); err != nil {
			t.Fatalf("check_prompts payload: %v", err)
		}
		if len(pending.PendingPrompts) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("prompt never detected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if pending.PendingPrompts[0].SessionID != created.ID {
		t.Errorf("pending prompt session = %s, want %s", pending.PendingPrompts[0].SessionID, created.ID)
	}

	if text, isError := c.toolCall("respond_to_prompt", map[string]any{
		"session_id": created.ID,
		"response":   "y",
	}); isError {
		t.Fatalf("respond_to_prompt failed: %s", text)
	}

	text, _ = c.toolCall("get_session", map[string]any{"session_id": created.ID})
	var st session.Status
	json.Unmarshal([]byte(text), &st)
	if st.State != session.StateActive {
		t.Errorf("state after respond = %v, want active", st.State)
	}
}
