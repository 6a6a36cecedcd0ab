package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

// typedMemoryTypes maps the typed-memory path segment to its
// models.MemoryType, restricted to the four typed-memory kinds the
// dedicated typed routes accept.
var typedMemoryTypes = map[string]models.MemoryType{
	"episodic":  models.MemoryTypeEpisodic,
	"semantic":  models.MemoryTypeSemantic,
	"procedural": models.MemoryTypeProcedural,
	"control":   models.MemoryTypeControl,
}

func (s *Server) handleAddTyped(c *gin.Context) {
	memType, ok := typedMemoryTypes[c.Param("type")]
	if !ok {
		writeError(c, apierr.Validation("type", "must be one of episodic, semantic, procedural, control"))
		return
	}

	var in models.AddInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	in.MemoryType = memType

	result, err := s.memories.Add(c.Request.Context(), projectID(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory": result.Memory, "deduplicated": result.Deduplicated})
}

func (s *Server) handleTypedSession(c *gin.Context) {
	rows, err := s.memories.ListBySession(c.Request.Context(), projectID(c), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": rows})
}

func (s *Server) handleTypedEntity(c *gin.Context) {
	rows, err := s.memories.ListByEntity(c.Request.Context(), projectID(c), c.Param("entity_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": rows})
}
