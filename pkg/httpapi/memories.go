package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/memory"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

func (s *Server) handleAddMemory(c *gin.Context) {
	var in models.AddInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	result, err := s.memories.Add(c.Request.Context(), projectID(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory": result.Memory, "deduplicated": result.Deduplicated})
}

type addBatchRequest struct {
	Items []models.AddInput `json:"items"`
}

func (s *Server) handleAddBatch(c *gin.Context) {
	var req addBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	result, err := s.memories.AddBatch(c.Request.Context(), projectID(c), req.Items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": result.Added, "deduplicated": result.Deduplicated})
}

type queryRequest struct {
	Query             string                `json:"query"`
	AgentID           string                `json:"agent_id"`
	Namespace         string                `json:"namespace,omitempty"`
	TopK              int                   `json:"top_k,omitempty"`
	MinScore          *float64              `json:"min_score,omitempty"`
	Filters           models.SearchFilters  `json:"filters,omitempty"`
	IncludeDeprecated bool                  `json:"include_deprecated,omitempty"`
	TargetAgentIDs    []string              `json:"target_agent_ids,omitempty"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	opts := memory.SearchOptions{
		Namespace:         req.Namespace,
		Filters:           req.Filters,
		TopK:              req.TopK,
		MinScore:          req.MinScore,
		ExcludeDeprecated: !req.IncludeDeprecated,
	}
	rows, err := s.memories.SemanticSearch(c.Request.Context(), projectID(c), req.AgentID, req.Query, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows})
}

func (s *Server) handleQueryCrossAgent(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	opts := memory.SearchOptions{
		Namespace:         req.Namespace,
		Filters:           req.Filters,
		TopK:              req.TopK,
		MinScore:          req.MinScore,
		ExcludeDeprecated: !req.IncludeDeprecated,
	}
	rows, err := s.memories.QueryCrossAgent(c.Request.Context(), projectID(c), req.AgentID, req.Query, req.TargetAgentIDs, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows})
}

func (s *Server) handleGetMemory(c *gin.Context) {
	mem, err := s.memories.Get(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

func (s *Server) handleDeleteMemory(c *gin.Context) {
	if err := s.memories.Delete(c.Request.Context(), projectID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type exportRequest struct {
	Namespace         *string `json:"namespace,omitempty"`
	AgentID           *string `json:"agent_id,omitempty"`
	Format            string  `json:"format,omitempty"`
	IncludeEmbeddings bool    `json:"include_embeddings,omitempty"`
}

// handleExport streams every matching memory as newline-delimited JSON
// (jsonl) or a single JSON array (json), paging internally through
// memory.ExportPageSize-sized reads so an unbounded export never holds the
// whole result set in memory.
func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	if req.Format == "" {
		req.Format = "jsonl"
	}
	if req.Format != "jsonl" && req.Format != "json" {
		writeError(c, apierr.Validation("format", "must be jsonl or json"))
		return
	}

	filters := memory.ExportFilters{Namespace: req.Namespace, AgentID: req.AgentID}
	ctx := c.Request.Context()
	pid := projectID(c)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")
	writer := c.Writer
	encoder := json.NewEncoder(writer)

	first := true
	if req.Format == "json" {
		c.Header("Content-Type", "application/json")
		_, _ = writer.Write([]byte("["))
	}

	var afterCreatedAt *string
	var afterID string
	for {
		page, err := s.memories.Export(ctx, pid, filters, afterCreatedAt, afterID)
		if err != nil {
			writeError(c, err)
			return
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if !req.IncludeEmbeddings {
				m.Embedding = nil
			}
			if req.Format == "json" {
				if !first {
					_, _ = writer.Write([]byte(","))
				}
				first = false
			}
			_ = encoder.Encode(m)
		}
		last := page[len(page)-1]
		createdAt := last.CreatedAt.Format("2006-01-02T15:04:05.999999Z07:00")
		afterCreatedAt = &createdAt
		afterID = last.ID
		if len(page) < memory.ExportPageSize {
			break
		}
		writer.Flush()
	}

	if req.Format == "json" {
		_, _ = writer.Write([]byte("]"))
	}
}

// importRecord mirrors the wire shape handleExport produces (a Memory's
// JSON encoding), not AddInput's write-endpoint shape — the two disagree on
// the TTL field name (ttl_seconds vs ttl), so import decodes into this
// record and maps it to AddInput itself rather than unmarshaling into
// AddInput directly and silently losing TTL on every re-imported row.
type importRecord struct {
	Content        string            `json:"content"`
	AgentID        string            `json:"agent_id"`
	Namespace      string            `json:"namespace,omitempty"`
	Scope          models.Scope      `json:"scope,omitempty"`
	SharedWith     []string          `json:"shared_with,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	MemoryType     models.MemoryType `json:"memory_type,omitempty"`
	TTLSeconds     *int64            `json:"ttl_seconds,omitempty"`
	SessionID      *string           `json:"session_id,omitempty"`
	EntityID       *string           `json:"entity_id,omitempty"`
	SequenceNumber *int64            `json:"sequence_number,omitempty"`
}

func (rec importRecord) toAddInput() models.AddInput {
	return models.AddInput{
		Content:        rec.Content,
		AgentID:        rec.AgentID,
		Namespace:      rec.Namespace,
		Scope:          rec.Scope,
		SharedWith:     rec.SharedWith,
		Metadata:       rec.Metadata,
		MemoryType:     rec.MemoryType,
		TTLSeconds:     rec.TTLSeconds,
		SessionID:      rec.SessionID,
		EntityID:       rec.EntityID,
		SequenceNumber: rec.SequenceNumber,
	}
}

// handleImport reads a line-delimited stream of exported memory records and
// adds them as a single batch, mirroring the shape export produces.
func (s *Server) handleImport(c *gin.Context) {
	scanner := bufio.NewScanner(c.Request.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var items []models.AddInput
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec importRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			writeError(c, apierr.Validation("body", "malformed import record"))
			return
		}
		items = append(items, rec.toAddInput())
	}
	if err := scanner.Err(); err != nil {
		writeError(c, apierr.Wrap(apierr.KindServer, "failed to read import stream", err))
		return
	}

	result, err := s.memories.AddBatch(c.Request.Context(), projectID(c), items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": result.Added, "deduplicated": result.Deduplicated})
}
