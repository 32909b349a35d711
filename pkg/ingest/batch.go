package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"github.com/evenscribe/umem/pkg/memory"
)

// BatchSchema is the JSON schema batch files are validated against.
const BatchSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["content"],
				"properties": {
					"tenant_id": {"type": "string", "minLength": 1},
					"content": {"type": "string", "minLength": 1},
					"priority": {"type": "integer", "minimum": 0},
					"tags": {
						"type": "array",
						"items": {"type": "string", "minLength": 1}
					}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var batchSchemaLoader = gojsonschema.NewStringLoader(BatchSchema)

type batchFile struct {
	Items []batchItem `json:"items"`
}

type batchItem struct {
	TenantID string   `json:"tenant_id"`
	Content  string   `json:"content"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

// LoadBatch reads and validates a JSON batch file and returns the add
// requests it describes. Items without a tenant_id fall back to
// defaultTenant.
func LoadBatch(path, defaultTenant string) ([]memory.AddRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return ParseBatch(data, defaultTenant)
}

// ParseBatch validates batch JSON against BatchSchema and converts it.
func ParseBatch(data []byte, defaultTenant string) ([]memory.AddRequest, error) {
	result, err := gojsonschema.Validate(batchSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return nil, fmt.Errorf("batch schema validation errors: %s", errMsg)
	}

	var batch batchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch JSON: %w", err)
	}

	reqs := make([]memory.AddRequest, len(batch.Items))
	for i, item := range batch.Items {
		tenant := item.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		reqs[i] = memory.AddRequest{
			TenantID: tenant,
			Content:  item.Content,
			Priority: item.Priority,
			Tags:     item.Tags,
		}
	}
	return reqs, nil
}
