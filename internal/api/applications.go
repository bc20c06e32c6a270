package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/contract"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/evidence"
	"loan-orchestrator/internal/models"
)

type startRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Months int     `json:"months" binding:"required"`
}

type documentRequest struct {
	Image  string               `json:"image" binding:"required"`
	Device models.DeviceContext `json:"device"`
}

type biometricRequest struct {
	IDImage string               `json:"idImage" binding:"required"`
	Selfie  string               `json:"selfie" binding:"required"`
	Device  models.DeviceContext `json:"device"`
}

type biometricResponse struct {
	Application  *models.LoanApplication   `json:"application"`
	Verification models.VerificationResult `json:"verification"`
	Contract     string                    `json:"contract,omitempty"`
	Error        *errors.StandardError     `json:"error,omitempty"`
}

type contractResponse struct {
	Application *models.LoanApplication `json:"application"`
	Contract    string                  `json:"contract"`
	Fallback    bool                    `json:"fallback,omitempty"`
}

func (s *Server) listCountries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"countries": s.deps.Countries.All()})
}

func (s *Server) quote(c *gin.Context) {
	ctry, ok := s.deps.Countries.Lookup(country.Code(c.Param("code")))
	if !ok {
		fail(c, errors.NewNotFoundError("country", c.Param("code")))
		return
	}
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil {
		fail(c, errors.NewInvalidLoanParametersError("amount must be a number"))
		return
	}
	months, err := strconv.Atoi(c.Query("months"))
	if err != nil {
		fail(c, errors.NewInvalidLoanParametersError("months must be an integer"))
		return
	}
	q, err := ctry.Quote(amount, months)
	if err != nil {
		fail(c, errors.NewInvalidLoanParametersError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) startApplication(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.NewInvalidLoanParametersError(err.Error()))
		return
	}
	actor := actorOf(c)
	app, err := s.deps.Orchestrator.StartApplication(c.Request.Context(), actor, actor.UserID, req.Amount, req.Months)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

func (s *Server) listApplications(c *gin.Context) {
	var filter models.ApplicationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	apps, err := s.deps.Orchestrator.ListApplications(c.Request.Context(), actorOf(c), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps, "count": len(apps)})
}

func (s *Server) getApplication(c *gin.Context) {
	app, err := s.deps.Orchestrator.GetApplication(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) submitDocuments(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	image, err := evidence.DecodeImage(req.Image)
	if err != nil {
		fail(c, err)
		return
	}

	app, err := s.deps.Orchestrator.SubmitDocuments(c.Request.Context(), actorOf(c), c.Param("id"), image, withClient(c, req.Device))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) submitBiometrics(c *gin.Context) {
	var req biometricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	idImage, err := evidence.DecodeImage(req.IDImage)
	if err != nil {
		fail(c, err)
		return
	}
	selfie, err := evidence.DecodeImage(req.Selfie)
	if err != nil {
		fail(c, err)
		return
	}

	out, err := s.deps.Orchestrator.SubmitBiometrics(c.Request.Context(), actorOf(c), c.Param("id"), idImage, selfie, withClient(c, req.Device))
	if out == nil {
		fail(c, err)
		return
	}

	resp := biometricResponse{Application: out.Application, Verification: out.Verification}
	if out.Contract != nil {
		resp.Contract = out.Contract.Text
	}
	if err != nil {
		// A mismatch still reports the verification so the client can retry.
		resp.Error = errors.Normalize(err)
		c.JSON(errors.HTTPStatus(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) generateContract(c *gin.Context) {
	draft, err := s.deps.Orchestrator.GenerateContract(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contractResponse{
		Application: draft.Application,
		Contract:    draft.Generation.Text,
		Fallback:    draft.Generation.Fallback,
	})
}

func (s *Server) confirmContract(c *gin.Context) {
	app, err := s.deps.Orchestrator.ConfirmContract(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) contractPDF(c *gin.Context) {
	app, err := s.deps.Orchestrator.GetApplication(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ctry, ok := s.deps.Countries.Lookup(app.Country)
	if !ok {
		fail(c, errors.NewNotFoundError("country", string(app.Country)))
		return
	}
	pdf, err := s.deps.Contracts.Render(app, ctry)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", contract.Filename(app)))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func withClient(c *gin.Context, d models.DeviceContext) models.DeviceContext {
	if d.UserAgent == "" {
		d.UserAgent = c.Request.UserAgent()
	}
	if d.IPAddress == "" {
		d.IPAddress = c.ClientIP()
	}
	return d
}
