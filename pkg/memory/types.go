// Package memory is the core of umem: tenant-scoped document storage
// with content-hash dedup, chunking, embedding orchestration, and
// semantic retrieval with neighbor context expansion.
package memory

import "time"

// Document is a unit of stored content. Identical content for one
// tenant dedupes onto a single document via ContentHash.
type Document struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Priority    int       `json:"priority"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is a contiguous slice of a document's content, the unit of
// embedding and retrieval. Offsets are rune offsets into the parent
// content, so Content[StartOffset:EndOffset] (as runes) equals Text.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Seq         int    `json:"seq"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// AddRequest is one write-path item.
type AddRequest struct {
	TenantID string   `json:"tenant_id"`
	Content  string   `json:"content"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
}

// UpdateRequest mutates an existing document. Nil fields are left
// untouched; a changed Content triggers re-chunk, re-embed, re-index.
type UpdateRequest struct {
	Content  *string   `json:"content,omitempty"`
	Priority *int      `json:"priority,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// BulkResult reports the outcome of one AddBulk item.
type BulkResult struct {
	DocumentID string `json:"document_id,omitempty"`
	Err        error  `json:"-"`
}
