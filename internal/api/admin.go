package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/models"
)

type decisionRequest struct {
	Note string `json:"note"`
}

// bindNote allows an empty body.
func bindNote(c *gin.Context) (string, bool) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		badRequest(c, err)
		return "", false
	}
	return req.Note, true
}

func (s *Server) approve(c *gin.Context) {
	app, err := s.deps.Admin.Approve(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) reject(c *gin.Context) {
	note, ok := bindNote(c)
	if !ok {
		return
	}
	app, err := s.deps.Admin.Reject(c.Request.Context(), actorOf(c), c.Param("id"), note)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) requestDocuments(c *gin.Context) {
	note, ok := bindNote(c)
	if !ok {
		return
	}
	app, err := s.deps.Admin.RequestDocuments(c.Request.Context(), actorOf(c), c.Param("id"), note)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// searchApplications runs the filter against the search index and loads the
// matching records from the registry. Without an index it falls back to the
// registry scan.
func (s *Server) searchApplications(c *gin.Context) {
	var filter models.ApplicationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	if s.deps.Search == nil {
		s.listApplications(c)
		return
	}

	ctx := c.Request.Context()
	actor := actorOf(c)
	result, err := s.deps.Search.Search(ctx, filter)
	if err != nil {
		fail(c, err)
		return
	}

	apps := make([]*models.LoanApplication, 0, len(result.IDs))
	for _, id := range result.IDs {
		app, err := s.deps.Orchestrator.GetApplication(ctx, actor, id)
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			// Index lags behind a deleted or not yet committed record.
			continue
		}
		if err != nil {
			fail(c, err)
			return
		}
		apps = append(apps, app)
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps, "count": len(apps), "total": result.Total})
}

func (s *Server) evidence(c *gin.Context) {
	if s.deps.Evidence == nil {
		fail(c, errors.NewNotFoundError("evidence", c.Param("index")))
		return
	}
	app, err := s.deps.Orchestrator.GetApplication(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(app.Evidence) {
		fail(c, errors.NewNotFoundError("evidence", c.Param("index")))
		return
	}

	data, err := s.deps.Evidence.Get(c.Request.Context(), app.Evidence[idx].Key)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
