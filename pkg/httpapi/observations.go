package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
)

const maxQuerySize = 10 << 10

type saveObservationRequest struct {
	SessionID       string                `json:"sessionId" binding:"required"`
	Type            store.ObservationType `json:"type" binding:"required"`
	Title           string                `json:"title" binding:"required"`
	Subtitle        string                `json:"subtitle"`
	Narrative       string                `json:"narrative"`
	Facts           []string              `json:"facts"`
	Concepts        []string              `json:"concepts"`
	FilesRead       []string              `json:"filesRead"`
	FilesModified   []string              `json:"filesModified"`
	RawToolOutput   string                `json:"rawToolOutput"`
	ToolName        string                `json:"toolName"`
	TokenCount      int                   `json:"tokenCount" binding:"gte=0"`
	DiscoveryTokens int                   `json:"discoveryTokens" binding:"gte=0"`
	Importance      int                   `json:"importance" binding:"omitempty,min=1,max=5"`
}

func (r saveObservationRequest) observation() *store.Observation {
	return &store.Observation{
		SessionID:       r.SessionID,
		Type:            r.Type,
		Title:           r.Title,
		Subtitle:        r.Subtitle,
		Narrative:       r.Narrative,
		Facts:           r.Facts,
		Concepts:        r.Concepts,
		FilesRead:       r.FilesRead,
		FilesModified:   r.FilesModified,
		RawToolOutput:   r.RawToolOutput,
		ToolName:        r.ToolName,
		TokenCount:      r.TokenCount,
		DiscoveryTokens: r.DiscoveryTokens,
		Importance:      r.Importance,
	}
}

func (s *Server) handleSaveObservation(c *gin.Context) {
	var req saveObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	obs, err := s.engine.Save(c.Request.Context(), project(c), req.observation())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, obs, nil)
}

func (s *Server) handleListObservations(c *gin.Context) {
	opts := store.ListOptions{
		Project:   project(c),
		Type:      store.ObservationType(c.Query("type")),
		SessionID: c.Query("session_id"),
	}
	var good bool
	if opts.IncludeArchived, good = queryBool(c, "include_archived"); !good {
		return
	}
	if opts.Since, good = queryTime(c, "since"); !good {
		return
	}
	if opts.Until, good = queryTime(c, "until"); !good {
		return
	}
	if opts.Offset, good = queryInt(c, "offset", 0); !good {
		return
	}
	if opts.Limit, good = queryInt(c, "limit", 0); !good {
		return
	}

	items, err := s.engine.ListByProject(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items)
}

func (s *Server) handleGetObservation(c *gin.Context) {
	id := c.Param("id")
	archived, good := queryBool(c, "include_archived")
	if !good {
		return
	}

	var obs *store.Observation
	var err error
	if archived {
		obs, err = s.engine.GetIncludingArchived(c.Request.Context(), project(c), id)
	} else {
		obs, err = s.engine.Get(c.Request.Context(), project(c), id)
	}
	if err != nil {
		fail(c, err)
		return
	}
	if obs == nil {
		fail(c, engine.NewNotFoundError("observation", id))
		return
	}
	ok(c, http.StatusOK, obs, nil)
}

func (s *Server) handleReviseObservation(c *gin.Context) {
	var patch store.ObservationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		bindError(c, err)
		return
	}
	next, err := s.engine.Revise(c.Request.Context(), project(c), c.Param("id"), patch)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, next, map[string]any{"previousId": c.Param("id")})
}

func (s *Server) handleDeleteObservation(c *gin.Context) {
	deleted, err := s.engine.Tombstone(c.Request.Context(), project(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": deleted}, nil)
}

func (s *Server) handleLineage(c *gin.Context) {
	nodes, err := s.engine.GetLineage(c.Request.Context(), project(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if nodes == nil {
		fail(c, engine.NewNotFoundError("observation", c.Param("id")))
		return
	}
	list(c, nodes)
}

func (s *Server) handleRevisionDiff(c *gin.Context) {
	diff, err := s.engine.GetRevisionDiff(c.Request.Context(), project(c), c.Param("id"), c.Query("against"))
	if err != nil {
		fail(c, err)
		return
	}
	if diff == nil {
		fail(c, engine.NewNotFoundError("observation", c.Param("id")))
		return
	}
	ok(c, http.StatusOK, diff, nil)
}

func (s *Server) handleIndex(c *gin.Context) {
	limit, good := queryInt(c, "limit", 0)
	if !good {
		return
	}
	entries, err := s.engine.GetIndex(c.Request.Context(), project(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, entries)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if len(query) > maxQuerySize {
		badRequest(c, "query exceeds maximum size of 10KB")
		return
	}

	f := search.Filters{
		Project:  project(c),
		Type:     store.ObservationType(c.Query("type")),
		Concepts: queryList(c, "concepts"),
		Files:    queryList(c, "files"),
	}
	var good bool
	if f.Limit, good = queryInt(c, "limit", 0); !good {
		return
	}
	if f.MinImportance, good = queryInt(c, "min_importance", 0); !good {
		return
	}
	if f.MaxImportance, good = queryInt(c, "max_importance", 0); !good {
		return
	}
	if f.Since, good = queryTime(c, "since"); !good {
		return
	}
	if f.Until, good = queryTime(c, "until"); !good {
		return
	}

	results, err := s.engine.Search(c.Request.Context(), query, f)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, results)
}

func (s *Server) handleExport(c *gin.Context) {
	opts := store.ListOptions{
		Project: project(c),
		Type:    store.ObservationType(c.Query("type")),
	}
	var good bool
	if opts.Since, good = queryTime(c, "since"); !good {
		return
	}
	if opts.Until, good = queryTime(c, "until"); !good {
		return
	}

	doc, err := s.engine.Export(c.Request.Context(), engine.ExportScope(c.Query("scope")), opts)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, doc, nil)
}

func (s *Server) handleImport(c *gin.Context) {
	var doc engine.ExportDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		bindError(c, err)
		return
	}
	report, err := s.engine.Import(c.Request.Context(), project(c), &doc, store.ImportMode(c.Query("mode")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, report, nil)
}

type startSessionRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	sess, err := s.engine.StartSession(c.Request.Context(), project(c), req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sess, nil)
}

func (s *Server) handleEndSession(c *gin.Context) {
	sess, err := s.engine.EndSession(c.Request.Context(), project(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess, nil)
}

type saveSummaryRequest struct {
	SessionID    string `json:"sessionId" binding:"required"`
	Request      string `json:"request"`
	Investigated string `json:"investigated"`
	Learned      string `json:"learned"`
	Completed    string `json:"completed"`
	NextSteps    string `json:"nextSteps"`
	Notes        string `json:"notes"`
}

func (s *Server) handleSaveSummary(c *gin.Context) {
	var req saveSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	sum, err := s.engine.SaveSummary(c.Request.Context(), project(c), &store.Summary{
		SessionID:    req.SessionID,
		Request:      req.Request,
		Investigated: req.Investigated,
		Learned:      req.Learned,
		Completed:    req.Completed,
		NextSteps:    req.NextSteps,
		Notes:        req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sum, nil)
}

func (s *Server) handleListSummaries(c *gin.Context) {
	limit, good := queryInt(c, "limit", 20)
	if !good {
		return
	}
	sums, err := s.engine.ListSummaries(c.Request.Context(), project(c), c.Query("session_id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, sums)
}
