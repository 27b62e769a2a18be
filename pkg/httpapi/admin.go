package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/store"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"config":    s.engine.Config(),
		"locked":    s.engine.ConfigManager().Locked(),
		"modes":     config.ModeNames(),
		"patchKeys": config.PatchKeys(),
	}, nil)
}

func (s *Server) handlePatchConfig(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	patch, err := config.DecodePatch(body)
	if err != nil {
		fail(c, err)
		return
	}
	event, err := s.engine.PatchConfig(c.Request.Context(), patch, store.SourceAPI)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, event, nil)
}

func (s *Server) handleApplyMode(c *gin.Context) {
	event, err := s.engine.ApplyMode(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, event, nil)
}

func (s *Server) handleConfigAudit(c *gin.Context) {
	limit, good := queryInt(c, "limit", 50)
	if !good {
		return
	}
	events, err := s.engine.GetConfigAuditTimeline(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, events)
}

func (s *Server) handleRollback(c *gin.Context) {
	event, err := s.engine.RollbackConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, event, nil)
}

func (s *Server) handleMaintenanceHistory(c *gin.Context) {
	limit, good := queryInt(c, "limit", 50)
	if !good {
		return
	}
	items, err := s.engine.GetMaintenanceHistory(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items)
}

func (s *Server) handleRunMaintenance(c *gin.Context) {
	dryRun, good := queryBool(c, "dry_run")
	if !good {
		return
	}
	item, err := s.engine.RunMaintenance(c.Request.Context(), c.Param("action"), dryRun)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, item, nil)
}

type upsertEntityRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type" binding:"required"`
}

func (s *Server) handleUpsertEntity(c *gin.Context) {
	var req upsertEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ent, err := s.engine.UpsertEntity(c.Request.Context(), req.Name, req.Type)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ent, nil)
}

func (s *Server) handleFindEntities(c *gin.Context) {
	limit, good := queryInt(c, "limit", 0)
	if !good {
		return
	}
	found, err := s.engine.FindEntities(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, found)
}

type createRelationRequest struct {
	SourceID      string `json:"sourceId" binding:"required"`
	TargetID      string `json:"targetId" binding:"required"`
	Relationship  string `json:"relationship" binding:"required"`
	ObservationID string `json:"observationId"`
}

func (s *Server) handleCreateRelation(c *gin.Context) {
	var req createRelationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rel, err := s.engine.CreateRelation(c.Request.Context(), req.SourceID, req.TargetID, req.Relationship, req.ObservationID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rel, nil)
}

func (s *Server) handleEntityRelations(c *gin.Context) {
	rels, err := s.engine.GetRelationsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	list(c, rels)
}

func (s *Server) handleTraverse(c *gin.Context) {
	depth, good := queryInt(c, "depth", 1)
	if !good {
		return
	}
	nodes, err := s.engine.TraverseRelations(c.Request.Context(), c.Param("id"), depth)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, nodes)
}

func (s *Server) handleEntityObservations(c *gin.Context) {
	obs, err := s.engine.GetObservationsForEntity(c.Request.Context(), project(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	list(c, obs)
}

