package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/mcp/tools"
	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "tasksync"
	ServerVersion = "v1.0.0"
)

// Server exposes the engine's Action API as MCP tools.
type Server struct {
	mcpServer *mcp.Server
	engine    *engine.Engine
	logger    *slog.Logger
	handler   *tools.Handler
}

// NewServer creates a new tasksync MCP server
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    e,
		logger:    logger,
		handler:   tools.NewHandler(e, logger),
	}

	s.registerTools()
	return s
}

// registerTools adds all MCP tools to the server
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, tools.CreateTaskTool(), s.handler.HandleCreateTask)
	mcp.AddTool(s.mcpServer, tools.UpdateTaskTool(), s.handler.HandleUpdateTask)
	mcp.AddTool(s.mcpServer, tools.DeleteTaskTool(), s.handler.HandleDeleteTask)
	mcp.AddTool(s.mcpServer, tools.ReorderTaskTool(), s.handler.HandleReorderTask)
	mcp.AddTool(s.mcpServer, tools.GetTaskTool(), s.handler.HandleGetTask)
	mcp.AddTool(s.mcpServer, tools.TaskTreeTool(), s.handler.HandleTaskTree)
	mcp.AddTool(s.mcpServer, tools.ListTasksTool(), s.handler.HandleListTasks)
	mcp.AddTool(s.mcpServer, tools.SetFilterTool(), s.handler.HandleSetFilter)
	mcp.AddTool(s.mcpServer, tools.ClearFiltersTool(), s.handler.HandleClearFilters)
	mcp.AddTool(s.mcpServer, tools.SetCurrentProjectTool(), s.handler.HandleSetCurrentProject)
	mcp.AddTool(s.mcpServer, tools.RetryFailedSyncTool(), s.handler.HandleRetryFailedSync)
	mcp.AddTool(s.mcpServer, tools.ClearFailedSyncTool(), s.handler.HandleClearFailedSync)
	mcp.AddTool(s.mcpServer, tools.ResolveConflictTool(), s.handler.HandleResolveConflict)
	mcp.AddTool(s.mcpServer, tools.ListConflictsTool(), s.handler.HandleListConflicts)
	mcp.AddTool(s.mcpServer, tools.ForceReloadTasksTool(), s.handler.HandleForceReloadTasks)
	mcp.AddTool(s.mcpServer, tools.SyncStatusTool(), s.handler.HandleSyncStatus)
}

// HTTPHandler routes /healthz to a sync summary and everything else to the
// streamable MCP transport.
func (s *Server) HTTPHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return s.mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Logger: s.logger,
		},
	))
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"online":  st.Online,
		"pending": st.Queue.Pending,
		"failed":  st.Queue.Failed,
	})
}

// Run starts the MCP server over stdio (for CLI usage)
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
