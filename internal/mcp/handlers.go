// ABOUTME: MCP tool handler implementations for the paperchat server
// ABOUTME: Tool failures are returned as error results, never as protocol errors
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	svc *chat.Service
	log logger.Logger
}

// NewHandlers creates handlers over svc
func NewHandlers(svc *chat.Service, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{svc: svc, log: log.With("component", "mcp")}
}

// IngestPaper handles the ingest_paper tool
func (h *Handlers) IngestPaper(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source argument is required and must be a string"), nil
	}

	doc, err := models.NewDocument(request.GetString("id", ""), request.GetString("title", ""), source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	conv, err := h.svc.Start(ctx, []models.Document{*doc}, func(percent float64) {
		h.log.Debug("ingest progress", "document", doc.ID, "percent", percent)
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to ingest paper: %v", err)), nil
	}
	set, err := h.svc.Ingest(ctx, *doc, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to ingest paper: %v", err)), nil
	}

	return jsonResult(map[string]interface{}{
		"conversation_id": conv.ID,
		"title":           conv.Title,
		"chunks":          set.Len(),
		"lang":            set.Lang,
		"model":           set.Model,
	})
}

// AskPaper handles the ask_paper tool
func (h *Handlers) AskPaper(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required and must be a string"), nil
	}

	var answer models.Message
	if source := request.GetString("source", ""); source != "" {
		doc, err := models.NewDocument("", "", source)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		answer, err = h.svc.Ask(ctx, *doc, question, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	} else {
		id := request.GetString("conversation_id", h.svc.Conversations().Current())
		if id == "" {
			return mcp.NewToolResultError(models.ErrNoSelection), nil
		}
		answer, err = h.svc.SendLLMMessage(ctx, id, question)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	return jsonResult(map[string]interface{}{
		"conversation_id": answer.ConversationID,
		"message_id":      answer.ID,
		"answer":          answer.Content,
	})
}

// FindPassage handles the find_passage tool
func (h *Handlers) FindPassage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required and must be a string"), nil
	}
	id := request.GetString("conversation_id", h.svc.Conversations().Current())
	if id == "" {
		return mcp.NewToolResultError(models.ErrNoSelection), nil
	}

	r, err := h.svc.Passage(ctx, id, question)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"conversation_id": id,
		"query":           r.Query,
		"passage":         r.Passage,
	})
}

// ListConversations handles the list_conversations tool
func (h *Handlers) ListConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	current := h.svc.Conversations().Current()
	convs := h.svc.Conversations().List()

	out := make([]map[string]interface{}, 0, len(convs))
	for _, c := range convs {
		out = append(out, map[string]interface{}{
			"conversation_id": c.ID,
			"title":           c.Title,
			"source":          c.Source,
			"last_used":       c.Timestamp.Format(time.RFC3339),
			"current":         c.ID == current,
			"messages":        len(h.svc.History(c.ID)) - 1,
		})
	}

	return jsonResult(map[string]interface{}{
		"conversations": out,
	})
}

// GetHistory handles the get_history tool
func (h *Handlers) GetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("conversation_id", h.svc.Conversations().Current())
	if id == "" {
		return mcp.NewToolResultError(models.ErrNoSelection), nil
	}
	if _, ok := h.svc.Conversations().Get(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown conversation %s", id)), nil
	}

	history := h.svc.History(id)
	messages := make([]map[string]interface{}, 0, len(history))
	for _, m := range history {
		entry := map[string]interface{}{
			"id":      m.ID,
			"sender":  string(m.Sender),
			"content": m.Content,
		}
		if !m.Timestamp.IsZero() {
			entry["timestamp"] = m.Timestamp.Format(time.RFC3339)
		}
		messages = append(messages, entry)
	}

	return jsonResult(map[string]interface{}{
		"conversation_id": id,
		"messages":        messages,
	})
}

// ListCache handles the list_cache tool
func (h *Handlers) ListCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.svc.CacheEntries(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cache: %v", err)), nil
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"document_id": e.ID,
			"chunks":      e.Chunks,
			"last_used":   e.Timestamp.Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]interface{}{
		"entries": out,
	})
}

// ResetCache handles the reset_cache tool
func (h *Handlers) ResetCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.svc.ResetAll(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reset: %v", err)), nil
	}
	h.log.Info("cache reset via MCP")
	return jsonResult(map[string]interface{}{
		"success": true,
	})
}

func jsonResult(response map[string]interface{}) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}
