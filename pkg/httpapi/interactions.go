package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

type insertInteractionRequest struct {
	SessionID     string  `json:"session_id"`
	AgentID       string  `json:"agent_id"`
	ParentEventID *string `json:"parent_event_id,omitempty"`
	Kind          string  `json:"kind"`
	Content       string  `json:"content"`
	Embed         bool    `json:"embed,omitempty"`
}

func (s *Server) handleInsertInteraction(c *gin.Context) {
	var req insertInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	event, err := s.interaction.Insert(c.Request.Context(), projectID(c), req.SessionID, req.AgentID, req.ParentEventID, req.Kind, req.Content, req.Embed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func limitParam(c *gin.Context) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func (s *Server) handleInteractionBySession(c *gin.Context) {
	events, err := s.interaction.ListBySession(c.Request.Context(), projectID(c), c.Param("id"), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleInteractionByAgent(c *gin.Context) {
	events, err := s.interaction.ListByAgent(c.Request.Context(), projectID(c), c.Param("id"), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type interactionSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (s *Server) handleInteractionSearch(c *gin.Context) {
	var req interactionSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	events, err := s.interaction.Search(c.Request.Context(), projectID(c), req.Query, req.TopK)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleInteractionChain implements GET /interaction-events/{id}: returns
// the node plus its full root-to-node causal chain.
func (s *Server) handleInteractionChain(c *gin.Context) {
	chain, err := s.interaction.Chain(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": chain})
}
