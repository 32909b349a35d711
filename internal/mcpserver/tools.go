package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evenscribe/umem/internal/tracing"
	"github.com/evenscribe/umem/pkg/memory"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

// AddMemoryInput is the input schema for the add_memory tool.
type AddMemoryInput struct {
	UserID   string   `json:"user_id" jsonschema:"the user the memory belongs to"`
	Text     string   `json:"text" jsonschema:"the memory text to store"`
	Priority int      `json:"priority,omitempty" jsonschema:"retrieval tie-break priority (higher wins)"`
	Tags     []string `json:"tags,omitempty" jsonschema:"free-form tags for filtered retrieval"`
}

// AddMemoryOutput is the output schema for the add_memory tool.
type AddMemoryOutput struct {
	MemoryID string `json:"memory_id"`
}

// AddMemoryBulkInput is the input schema for the add_memory_bulk tool.
type AddMemoryBulkInput struct {
	UserID string   `json:"user_id" jsonschema:"the user the memories belong to"`
	Texts  []string `json:"texts" jsonschema:"the memory texts to store"`
}

// AddMemoryBulkOutput is the output schema for the add_memory_bulk tool.
type AddMemoryBulkOutput struct {
	MemoryIDs []string `json:"memory_ids"`
	Errors    []string `json:"errors,omitempty"`
}

// UpdateMemoryInput is the input schema for the update_memory tool.
type UpdateMemoryInput struct {
	UserID   string    `json:"user_id" jsonschema:"the user the memory belongs to"`
	MemoryID string    `json:"memory_id" jsonschema:"the memory to update"`
	Text     *string   `json:"text,omitempty" jsonschema:"replacement text"`
	Priority *int      `json:"priority,omitempty" jsonschema:"replacement priority"`
	Tags     *[]string `json:"tags,omitempty" jsonschema:"replacement tags"`
}

// UpdateMemoryOutput is the output schema for the update_memory tool.
type UpdateMemoryOutput struct {
	MemoryID string `json:"memory_id"`
}

// DeleteMemoryInput is the input schema for the delete_memory tool.
type DeleteMemoryInput struct {
	UserID   string `json:"user_id" jsonschema:"the user the memory belongs to"`
	MemoryID string `json:"memory_id" jsonschema:"the memory to delete"`
}

// DeleteMemoryOutput is the output schema for the delete_memory tool.
type DeleteMemoryOutput struct {
	Deleted bool `json:"deleted"`
}

// QueryInput is the input schema for the get_memories_by_query tool.
type QueryInput struct {
	UserID      string   `json:"user_id" jsonschema:"the user whose memories to search"`
	Query       string   `json:"query" jsonschema:"the semantic search query"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"maximum matches to retrieve (default 8)"`
	Tags        []string `json:"tags,omitempty" jsonschema:"restrict matches to memories carrying any of these tags"`
	MinPriority *int     `json:"min_priority,omitempty" jsonschema:"restrict matches to memories at or above this priority"`
	Summarize   bool     `json:"summarize,omitempty" jsonschema:"condense the assembled context"`
}

// QueryOutput is the output schema for the get_memories_by_query tool.
type QueryOutput struct {
	Context  string          `json:"context"`
	Passages []PassageOutput `json:"passages"`
}

// PassageOutput represents one retrieved passage.
type PassageOutput struct {
	MemoryID string  `json:"memory_id"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

// ListInput is the input schema for the get_memories_by_user_id tool.
type ListInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose memories to list"`
}

// ListOutput is the output schema for the get_memories_by_user_id tool.
type ListOutput struct {
	Memories []MemoryOutput `json:"memories"`
	Count    int            `json:"count"`
}

// MemoryOutput represents one stored memory.
type MemoryOutput struct {
	MemoryID  string   `json:"memory_id"`
	Text      string   `json:"text"`
	Priority  int      `json:"priority"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// AddFromURLInput is the input schema for the add_memory_from_url tool.
type AddFromURLInput struct {
	UserID string `json:"user_id" jsonschema:"the user the memory belongs to"`
	URL    string `json:"url" jsonschema:"the web page to extract and store"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_memory",
		Description: "Store a memory for a user",
	}, s.handleAddMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_memory_bulk",
		Description: "Store several memories for a user in one call",
	}, s.handleAddMemoryBulk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_memory",
		Description: "Update a stored memory's text, priority, or tags",
	}, s.handleUpdateMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_memory",
		Description: "Delete a stored memory",
	}, s.handleDeleteMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_memories_by_query",
		Description: "Retrieve memories relevant to a query, assembled as context",
	}, s.handleQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_memories_by_user_id",
		Description: "List all memories stored for a user",
	}, s.handleList)
	if s.extractor != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "add_memory_from_url",
			Description: "Extract a web page and store its text as a memory",
		}, s.handleAddFromURL)
	}
}

// toolContext stamps request-scoped ids onto the context so store and
// engine logs correlate per tool call.
func toolContext(ctx context.Context, userID string) context.Context {
	ctx = tracing.WithRequestID(ctx, tracing.NewRequestID())
	return tracing.WithTenantID(ctx, userID)
}

func (s *Server) handleAddMemory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AddMemoryInput,
) (*mcp.CallToolResult, AddMemoryOutput, error) {
	if input.UserID == "" {
		return nil, AddMemoryOutput{}, memory.ErrMissingTenant
	}
	if input.Text == "" {
		return nil, AddMemoryOutput{}, errors.New("text must not be empty")
	}

	id, err := s.store.Add(toolContext(ctx, input.UserID), memory.AddRequest{
		TenantID: input.UserID,
		Content:  input.Text,
		Priority: input.Priority,
		Tags:     input.Tags,
	})
	if err != nil {
		return nil, AddMemoryOutput{}, err
	}
	return nil, AddMemoryOutput{MemoryID: id}, nil
}

func (s *Server) handleAddMemoryBulk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AddMemoryBulkInput,
) (*mcp.CallToolResult, AddMemoryBulkOutput, error) {
	if input.UserID == "" {
		return nil, AddMemoryBulkOutput{}, memory.ErrMissingTenant
	}
	if len(input.Texts) == 0 {
		return nil, AddMemoryBulkOutput{}, errors.New("texts must not be empty")
	}

	reqs := make([]memory.AddRequest, len(input.Texts))
	for i, text := range input.Texts {
		reqs[i] = memory.AddRequest{TenantID: input.UserID, Content: text}
	}

	results := s.store.AddBulk(toolContext(ctx, input.UserID), reqs, false)

	output := AddMemoryBulkOutput{MemoryIDs: make([]string, len(results))}
	for i, r := range results {
		output.MemoryIDs[i] = r.DocumentID
		if r.Err != nil {
			output.Errors = append(output.Errors, fmt.Sprintf("item %d: %v", i, r.Err))
		}
	}
	return nil, output, nil
}

func (s *Server) handleUpdateMemory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UpdateMemoryInput,
) (*mcp.CallToolResult, UpdateMemoryOutput, error) {
	if input.UserID == "" {
		return nil, UpdateMemoryOutput{}, memory.ErrMissingTenant
	}
	if input.MemoryID == "" {
		return nil, UpdateMemoryOutput{}, errors.New("memory_id must not be empty")
	}
	if input.Text == nil && input.Priority == nil && input.Tags == nil {
		return nil, UpdateMemoryOutput{}, errors.New("nothing to update")
	}

	err := s.store.Update(toolContext(ctx, input.UserID), input.UserID, input.MemoryID, memory.UpdateRequest{
		Content:  input.Text,
		Priority: input.Priority,
		Tags:     input.Tags,
	})
	if err != nil {
		return nil, UpdateMemoryOutput{}, err
	}
	return nil, UpdateMemoryOutput{MemoryID: input.MemoryID}, nil
}

func (s *Server) handleDeleteMemory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteMemoryInput,
) (*mcp.CallToolResult, DeleteMemoryOutput, error) {
	if input.UserID == "" {
		return nil, DeleteMemoryOutput{}, memory.ErrMissingTenant
	}
	if input.MemoryID == "" {
		return nil, DeleteMemoryOutput{}, errors.New("memory_id must not be empty")
	}

	if err := s.store.Delete(toolContext(ctx, input.UserID), input.UserID, input.MemoryID); err != nil {
		return nil, DeleteMemoryOutput{}, err
	}
	return nil, DeleteMemoryOutput{Deleted: true}, nil
}

func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	if input.UserID == "" {
		return nil, QueryOutput{}, memory.ErrMissingTenant
	}

	res, err := s.engine.Query(toolContext(ctx, input.UserID), memory.QueryRequest{
		TenantID: input.UserID,
		Query:    input.Query,
		TopK:     input.TopK,
		Filters: vectorindex.Filters{
			Tags:        input.Tags,
			MinPriority: input.MinPriority,
		},
		Summarize: input.Summarize,
	})
	if err != nil {
		return nil, QueryOutput{}, err
	}

	output := QueryOutput{
		Context:  res.Text,
		Passages: make([]PassageOutput, len(res.Passages)),
	}
	for i, p := range res.Passages {
		output.Passages[i] = PassageOutput{
			MemoryID: p.DocumentID,
			Score:    p.Score,
			Text:     p.Text,
		}
	}
	return nil, output, nil
}

func (s *Server) handleList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if input.UserID == "" {
		return nil, ListOutput{}, memory.ErrMissingTenant
	}

	docs, err := s.store.DocumentsByTenant(toolContext(ctx, input.UserID), input.UserID)
	if err != nil {
		return nil, ListOutput{}, err
	}

	output := ListOutput{
		Memories: make([]MemoryOutput, len(docs)),
		Count:    len(docs),
	}
	for i, doc := range docs {
		output.Memories[i] = MemoryOutput{
			MemoryID:  doc.ID,
			Text:      doc.Content,
			Priority:  doc.Priority,
			Tags:      doc.Tags,
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return nil, output, nil
}

func (s *Server) handleAddFromURL(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AddFromURLInput,
) (*mcp.CallToolResult, AddMemoryOutput, error) {
	if input.UserID == "" {
		return nil, AddMemoryOutput{}, memory.ErrMissingTenant
	}
	if input.URL == "" {
		return nil, AddMemoryOutput{}, errors.New("url must not be empty")
	}

	id, err := s.extractor.Ingest(toolContext(ctx, input.UserID), s.store, input.UserID, input.URL)
	if err != nil {
		return nil, AddMemoryOutput{}, err
	}
	return nil, AddMemoryOutput{MemoryID: id}, nil
}
