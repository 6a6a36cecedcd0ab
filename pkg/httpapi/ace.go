package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegislabs/aegis-memory/pkg/ace"
	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

type voteRequest struct {
	Vote         models.VoteKind `json:"vote"`
	VoterAgentID string          `json:"voter_agent_id"`
	Context      *string         `json:"context,omitempty"`
	TaskID       *string         `json:"task_id,omitempty"`
}

func (s *Server) handleVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	err := s.ace.Vote(c.Request.Context(), projectID(c), c.Param("id"), req.VoterAgentID, req.Vote, req.Context, req.TaskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deltaRequest struct {
	Operations []models.DeltaOp `json:"operations"`
}

func (s *Server) handleDelta(c *gin.Context) {
	var req deltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	outcomes, err := s.ace.Delta(c.Request.Context(), projectID(c), req.Operations)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

type reflectionRequest struct {
	Content            string   `json:"content"`
	AgentID            string   `json:"agent_id"`
	ErrorPattern       *string  `json:"error_pattern,omitempty"`
	CorrectApproach    *string  `json:"correct_approach,omitempty"`
	SourceTrajectoryID *string  `json:"source_trajectory_id,omitempty"`
	ApplicableContexts []string `json:"applicable_contexts,omitempty"`
}

func (s *Server) handleReflection(c *gin.Context) {
	var req reflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	mem, err := s.ace.Reflection(c.Request.Context(), projectID(c), ace.ReflectionInput{
		Content:            req.Content,
		AgentID:            req.AgentID,
		ErrorPattern:       req.ErrorPattern,
		CorrectApproach:    req.CorrectApproach,
		SourceTrajectoryID: req.SourceTrajectoryID,
		ApplicableContexts: req.ApplicableContexts,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mem)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Summary   string `json:"summary"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	session, err := s.ace.CreateSession(c.Request.Context(), projectID(c), req.SessionID, req.AgentID, req.Summary)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	var patch models.SessionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	session, err := s.ace.UpdateSession(c.Request.Context(), projectID(c), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.ace.GetSession(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type createFeatureRequest struct {
	FeatureID   string   `json:"feature_id"`
	Description string   `json:"description"`
	TestSteps   []string `json:"test_steps"`
}

func (s *Server) handleCreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	feature, err := s.ace.CreateFeature(c.Request.Context(), projectID(c), req.FeatureID, req.Description, req.TestSteps)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feature)
}

func (s *Server) handleUpdateFeature(c *gin.Context) {
	var patch models.FeaturePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	feature, err := s.ace.UpdateFeature(c.Request.Context(), projectID(c), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feature)
}

func (s *Server) handleGetFeature(c *gin.Context) {
	feature, err := s.ace.GetFeature(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feature)
}

func (s *Server) handleListFeatures(c *gin.Context) {
	features, err := s.ace.ListFeatures(c.Request.Context(), projectID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features})
}

type playbookRequest struct {
	Query            string               `json:"query"`
	AgentID          string               `json:"agent_id"`
	Namespace        string               `json:"namespace,omitempty"`
	IncludeTypes     []models.MemoryType  `json:"include_types,omitempty"`
	MinEffectiveness float64              `json:"min_effectiveness,omitempty"`
	TopK             int                  `json:"top_k,omitempty"`
}

func (s *Server) handlePlaybook(c *gin.Context) {
	var req playbookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	rows, err := s.ace.Playbook(c.Request.Context(), projectID(c), req.AgentID, req.Query, ace.PlaybookOptions{
		Namespace:        req.Namespace,
		IncludeTypes:     req.IncludeTypes,
		MinEffectiveness: req.MinEffectiveness,
		TopK:             req.TopK,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows})
}

type startRunRequest struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	run, err := s.ace.StartRun(c.Request.Context(), projectID(c), req.AgentID, req.Task)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

type completeRunRequest struct {
	Outcome      models.RunOutcome `json:"outcome"`
	MemoriesUsed []string          `json:"memories_used"`
	ErrorPattern *string           `json:"error_pattern,omitempty"`
}

func (s *Server) handleCompleteRun(c *gin.Context) {
	var req completeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Validation("body", "malformed JSON"))
		return
	}
	run, err := s.ace.CompleteRun(c.Request.Context(), projectID(c), c.Param("id"), req.Outcome, req.MemoriesUsed, req.ErrorPattern)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.ace.GetRun(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleCurate(c *gin.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	result, err := s.ace.Curate(c.Request.Context(), projectID(c), today)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
