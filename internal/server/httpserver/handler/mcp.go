package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/infra/buildinfo"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
)

const (
	protocolVersion = "2025-03-26"
	maxRPCBodyBytes = 4 << 20
)

// handleRPC handles POST /mcp.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBodyBytes))
	if err != nil {
		h.writeRPCError(w, http.StatusBadRequest, nil, InvalidRequest, "request body too large or unreadable")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeRPCError(w, http.StatusBadRequest, nil, ParseError, "parse error")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		h.writeRPCError(w, http.StatusBadRequest, req.ID, InvalidRequest, "invalid request")
		return
	}

	if req.Method == "initialize" {
		h.initialize(w, r, req)
		return
	}

	connID := r.Header.Get(SessionHeader)
	if connID == "" {
		h.writeRPCError(w, http.StatusBadRequest, req.ID, SessionRequired, domain.ErrSessionMissing.Message)
		return
	}
	if err := h.cfg.Sessions.Touch(connID); err != nil {
		h.writeRPCError(w, http.StatusNotFound, req.ID, SessionRequired, "session not found or expired")
		return
	}

	ctx := logger.WithLogger(r.Context(), logger.L(r.Context()).With("connection_id", connID))
	r = r.WithContext(ctx)

	// Notifications carry no id and get no response body.
	if len(req.ID) == 0 || bytes.Equal(req.ID, []byte("null")) {
		logger.L(ctx).Debug("notification received", "method", req.Method)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "ping":
		h.writeRPCResult(w, req.ID, struct{}{})
	case "tools/list":
		h.listTools(w, req)
	case "tools/call":
		h.callTool(w, r, connID, req)
	default:
		h.writeRPCError(w, http.StatusOK, req.ID, MethodNotFound, "method not found: "+req.Method)
	}
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request, req RPCRequest) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.writeRPCError(w, http.StatusOK, req.ID, InvalidParams, "invalid initialize params")
			return
		}
	}
	var client domain.ClientInfo
	if len(params.ClientInfo) > 0 {
		_ = json.Unmarshal(params.ClientInfo, &client)
	}

	sess, err := h.cfg.Sessions.Create(client, r.RemoteAddr)
	if err != nil {
		logger.L(r.Context()).Error("failed to create session", "error", err)
		h.writeRPCError(w, http.StatusInternalServerError, req.ID, InternalError, "failed to create session")
		return
	}
	logger.L(r.Context()).Info("client initialized",
		"connection_id", sess.ID,
		"client", client.Name,
		"client_version", client.Version,
	)

	version := h.cfg.Server.Version
	if version == "" {
		version = buildinfo.Get().Version
	}
	proto := params.ProtocolVersion
	if proto == "" {
		proto = protocolVersion
	}

	w.Header().Set(SessionHeader, sess.ID)
	h.writeRPCResult(w, req.ID, InitializeResult{
		ProtocolVersion: proto,
		ServerInfo:      ServerInfo{Name: h.cfg.Server.Name, Version: version},
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
	})
}

func (h *Handler) listTools(w http.ResponseWriter, req RPCRequest) {
	tools := h.cfg.Tools.List()
	out := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	h.writeRPCResult(w, req.ID, map[string]any{"tools": out})
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request, connID string, req RPCRequest) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		h.writeRPCError(w, http.StatusOK, req.ID, InvalidParams, "tools/call needs a tool name")
		return
	}

	result, err := h.cfg.Tools.Call(r.Context(), connID, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, domain.ErrToolNotFound) {
			h.writeRPCError(w, http.StatusOK, req.ID, InvalidParams, "unknown tool: "+params.Name)
			return
		}
		h.writeRPCResult(w, req.ID, CallToolResult{
			Content: []ContentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	h.writeRPCResult(w, req.ID, CallToolResult{
		Content: []ContentItem{{Type: "text", Text: renderText(result)}},
	})
}

// handleDisconnect handles DELETE /mcp.
func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(SessionHeader)
	if connID == "" {
		h.handleServiceError(w, r, domain.ErrSessionMissing)
		return
	}
	if !h.teardown(r, connID) {
		h.handleServiceError(w, r, domain.ErrSessionNotFound.WithDetails(connID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func renderText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.RawMessage:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func (h *Handler) writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	h.writeRPC(w, http.StatusOK, RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (h *Handler) writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	h.writeRPC(w, status, RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (h *Handler) writeRPC(w http.ResponseWriter, status int, resp RPCResponse) {
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode rpc response", "error", err)
	}
}
