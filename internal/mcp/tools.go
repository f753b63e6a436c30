// ABOUTME: MCP tool definitions and registration for the paperchat server
// ABOUTME: Exposes ingest, ask, passage search, history, conversation listing and cache tools over chat.Service
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/logger"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, svc *chat.Service, log logger.Logger) *Handlers {
	handlers := NewHandlers(svc, log)

	// 1. ingest_paper - extract and embed a PDF so questions can be answered from it
	server.AddTool(mcp.Tool{
		Name:        "ingest_paper",
		Description: "Extract the text of a paper (local PDF path or http(s) URL), embed its paragraphs and open its conversation. Cached papers are not processed again.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Local PDF path or http(s) URL of the paper",
				},
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Optional document id; derived from the source when omitted",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Optional paper title",
				},
			},
			Required: []string{"source"},
		},
	}, handlers.IngestPaper)

	// 2. ask_paper - answer a question from the most relevant passage
	server.AddTool(mcp.Tool{
		Name:        "ask_paper",
		Description: "Ask a question about a paper. Pass source to select the paper, or conversation_id to continue an existing conversation; the current conversation is used when both are omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question about the paper",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Local PDF path or http(s) URL of the paper",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Existing conversation (document) id",
				},
			},
			Required: []string{"question"},
		},
	}, handlers.AskPaper)

	// 3. find_passage - retrieval only, nothing recorded
	server.AddTool(mcp.Tool{
		Name:        "find_passage",
		Description: "Return the passage of a paper closest to a question, with its neighbouring paragraphs, without asking the LLM or recording anything.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question or search text",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation (document) id; defaults to the current conversation",
				},
			},
			Required: []string{"question"},
		},
	}, handlers.FindPassage)

	// 4. list_conversations - retained conversations, newest first
	server.AddTool(mcp.Tool{
		Name:        "list_conversations",
		Description: "List the retained paper conversations, most recently used first.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.ListConversations)

	// 5. get_history - messages of one conversation
	server.AddTool(mcp.Tool{
		Name:        "get_history",
		Description: "Get the message history of a paper conversation, starting with the greeting.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation (document) id; defaults to the current conversation",
				},
			},
		},
	}, handlers.GetHistory)

	// 6. list_cache - embedding cache contents
	server.AddTool(mcp.Tool{
		Name:        "list_cache",
		Description: "List the papers whose embeddings are cached, most recently used first.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.ListCache)

	// 7. reset_cache - clear everything
	server.AddTool(mcp.Tool{
		Name:        "reset_cache",
		Description: "Clear the embedding cache and every conversation and message.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.ResetCache)

	return handlers
}
