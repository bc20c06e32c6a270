package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"loan-orchestrator/internal/auth"
	"loan-orchestrator/internal/country"
)

type otpRequest struct {
	Mobile string `json:"mobile" binding:"required"`
	Code   string `json:"otp"`
}

type loginRequest struct {
	Mobile   string `json:"mobile" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type chatRequest struct {
	Message string       `json:"message" binding:"required"`
	Country country.Code `json:"country" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := s.deps.Auth.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "otpSent": true})
}

func (s *Server) sendOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Auth.SendOTP(c.Request.Context(), req.Mobile); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"otpSent": true})
}

func (s *Server) verifyOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := s.deps.Auth.VerifyOTP(c.Request.Context(), req.Mobile, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := s.deps.Auth.Login(c.Request.Context(), req.Mobile, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) ask(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reply, err := s.deps.Assistant.Ask(c.Request.Context(), actorOf(c), req.Country, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) history(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": s.deps.Assistant.History(actorOf(c).UserID)})
}

func (s *Server) resetChat(c *gin.Context) {
	s.deps.Assistant.Reset(actorOf(c).UserID)
	c.Status(http.StatusNoContent)
}
