package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/copilot/internal/workflow"
)

// ProgressNotifier pushes per-node progress of a copilot.ask call to the
// client session that made the call.
type ProgressNotifier struct {
	mcpServer *server.MCPServer
}

// NewProgressNotifier creates a notifier on top of mcpServer.
func NewProgressNotifier(mcpServer *server.MCPServer) *ProgressNotifier {
	return &ProgressNotifier{mcpServer: mcpServer}
}

// Observer returns a workflow observer bound to the caller's session, or nil
// when ctx carries no session.
func (n *ProgressNotifier) Observer(ctx context.Context, questionID string) workflow.Observer {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}
	sessionID := session.SessionID()
	return func(node workflow.NodeID, u workflow.Update) {
		// Best-effort: a closed session only loses progress.
		_ = n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
			"level":  "info",
			"logger": "copilot",
			"data": map[string]any{
				"question_id": questionID,
				"node":        string(node),
				"fields":      u.Fields(),
			},
		})
	}
}
