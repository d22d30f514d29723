// Package mcp exposes the session registry as MCP tools over a JSON-RPC 2.0
// stdio transport.
package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhubert/shepherd/logger"
	"github.com/zhubert/shepherd/manager"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "shepherd"
	ServerVersion   = "1.0.0"
)

// Server implements an MCP server exposing session supervision tools.
// Stdout carries the protocol, so nothing else in the process may write to
// it while the server runs.
type Server struct {
	reader     *bufio.Reader
	writer     io.Writer
	supervisor *manager.Supervisor
	mu         sync.Mutex // serializes writes to the transport
	log        *slog.Logger
}

// NewServer creates an MCP server speaking over r and w.
func NewServer(r io.Reader, w io.Writer, sup *manager.Supervisor) *Server {
	return &Server{
		reader:     bufio.NewReader(r),
		writer:     w,
		supervisor: sup,
		log:        logger.WithComponent("mcp"),
	}
}

// Run reads requests until EOF. Returns nil on clean shutdown.
func (s *Server) Run() error {
	s.log.Info("server starting")

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			s.log.Info("EOF received, shutting down")
			return nil
		}
		if err != nil {
			s.log.Error("read error", "error", err)
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.log.Error("JSON parse error", "error", err)
			s.sendError(nil, -32700, "Parse error", nil)
			continue
		}

		s.handleRequest(&req)
	}
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized":
		// Notification, no response needed
		s.log.Debug("initialized notification received")
	case "tools/list":
		s.sendResult(req.ID, ToolsListResult{Tools: toolDefinitions()})
	case "tools/call":
		s.handleToolsCall(req)
	default:
		s.log.Warn("unknown method", "method", req.Method)
		s.sendError(req.ID, -32601, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capability{
			Tools: &ToolCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Instructions: "This server manages interactive assistant CLI sessions: create them, send messages, read output, and answer prompts.",
	}
	s.sendResult(req.ID, result)
}

func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "create_session",
			Description: "Start a new supervised assistant session in a working directory",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"name":        {Type: "string", Description: "Display name for the session"},
					"working_dir": {Type: "string", Description: "Directory to run the session in; defaults to the configured directory"},
				},
			},
		},
		{
			Name:        "list_sessions",
			Description: "List all sessions with their current state",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "get_session",
			Description: "Get detailed status for one session",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string", Description: "Session identifier"},
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "send_message",
			Description: "Send a message to a running session",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string", Description: "Session identifier"},
					"message":    {Type: "string", Description: "Text to send to the session"},
				},
				Required: []string{"session_id", "message"},
			},
		},
		{
			Name:        "get_logs",
			Description: "Read recent output lines from a session",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string", Description: "Session identifier"},
					"lines":      {Type: "number", Description: "How many recent lines to return; 0 for all buffered"},
					"full":       {Type: "boolean", Description: "Return untruncated lines"},
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "terminate_session",
			Description: "Gracefully stop a session's process",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string", Description: "Session identifier"},
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "check_prompts",
			Description: "Check every session for pending interactive prompts",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "respond_to_prompt",
			Description: "Answer a pending interactive prompt on a session",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {Type: "string", Description: "Session identifier"},
					"response":   {Type: "string", Description: "Text to answer the prompt with"},
				},
				Required: []string{"session_id", "response"},
			},
		},
	}
}

func (s *Server) handleToolsCall(req *JSONRPCRequest) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Error("invalid tool call params", "error", err)
		s.sendError(req.ID, -32602, "Invalid params", nil)
		return
	}

	s.log.Debug("tool call", "tool", params.Name)

	switch params.Name {
	case "create_session":
		s.handleCreateSession(req.ID, params.Arguments)
	case "list_sessions":
		s.handleListSessions(req.ID)
	case "get_session":
		s.handleGetSession(req.ID, params.Arguments)
	case "send_message":
		s.handleSendMessage(req.ID, params.Arguments)
	case "get_logs":
		s.handleGetLogs(req.ID, params.Arguments)
	case "terminate_session":
		s.handleTerminateSession(req.ID, params.Arguments)
	case "check_prompts":
		s.handleCheckPrompts(req.ID)
	case "respond_to_prompt":
		s.handleRespondToPrompt(req.ID, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", nil)
	}
}

func (s *Server) handleCreateSession(id any, args map[string]any) {
	name, _ := args["name"].(string)
	workingDir, _ := args["working_dir"].(string)

	st, err := s.supervisor.Create(name, workingDir)
	if err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolJSON(id, st)
}

func (s *Server) handleListSessions(id any) {
	s.sendToolJSON(id, map[string]any{"sessions": s.supervisor.List()})
}

func (s *Server) handleGetSession(id any, args map[string]any) {
	sessionID, ok := args["session_id"].(string)
	if !ok || sessionID == "" {
		s.sendToolResult(id, true, "session_id is required")
		return
	}
	st, err := s.supervisor.Get(sessionID)
	if err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolJSON(id, st)
}

func (s *Server) handleSendMessage(id any, args map[string]any) {
	sessionID, _ := args["session_id"].(string)
	message, ok := args["message"].(string)
	if sessionID == "" || !ok || message == "" {
		s.sendToolResult(id, true, "session_id and message are required")
		return
	}
	if err := s.supervisor.Send(sessionID, message); err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolResult(id, false, "message sent")
}

func (s *Server) handleGetLogs(id any, args map[string]any) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		s.sendToolResult(id, true, "session_id is required")
		return
	}
	lines := 0
	if n, ok := args["lines"].(float64); ok {
		lines = int(n)
	}
	full, _ := args["full"].(bool)

	logs, err := s.supervisor.Logs(sessionID, lines, full)
	if err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolResult(id, false, strings.Join(logs, "\n"))
}

func (s *Server) handleTerminateSession(id any, args map[string]any) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		s.sendToolResult(id, true, "session_id is required")
		return
	}
	if err := s.supervisor.Terminate(sessionID); err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolResult(id, false, "session terminated")
}

func (s *Server) handleCheckPrompts(id any) {
	pending := s.supervisor.CheckPrompts()
	payload := make([]map[string]string, 0, len(pending))
	for _, p := range pending {
		payload = append(payload, map[string]string{
			"session_id": p.SessionID,
			"name":       p.Name,
			"prompt":     p.Prompt,
		})
	}
	s.sendToolJSON(id, map[string]any{"pending_prompts": payload})
}

func (s *Server) handleRespondToPrompt(id any, args map[string]any) {
	sessionID, _ := args["session_id"].(string)
	response, ok := args["response"].(string)
	if sessionID == "" || !ok || response == "" {
		s.sendToolResult(id, true, "session_id and response are required")
		return
	}
	if err := s.supervisor.Respond(sessionID, response); err != nil {
		s.sendToolError(id, err)
		return
	}
	s.sendToolResult(id, false, "response sent")
}

// sendToolError reports a registry error as an isError tool result. Domain
// errors stay in-band; only protocol violations use sendError.
func (s *Server) sendToolError(id any, err error) {
	if errors.Is(err, manager.ErrNotFound) {
		s.log.Debug("tool call for unknown session", "error", err)
	}
	s.sendToolResult(id, true, err.Error())
}

func (s *Server) sendToolJSON(id any, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.sendToolResult(id, true, fmt.Sprintf("failed to encode result: %v", err))
		return
	}
	s.sendToolResult(id, false, string(data))
}

func (s *Server) sendToolResult(id any, isError bool, text string) {
	toolResult := ToolCallResult{
		Content: []ContentItem{
			{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
	s.sendResult(id, toolResult)
}

func (s *Server) sendResult(id any, result any) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *Server) sendError(id any, code int, message string, data any) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *Server) send(resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.writer, "%s\n", data); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
