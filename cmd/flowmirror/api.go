package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sbtg-data/flowmirror/pkg/flowerrors"
	"github.com/sbtg-data/flowmirror/pkg/lifecycle"
	"github.com/sbtg-data/flowmirror/pkg/mailbox"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
)

type apiServer struct {
	flows      *lifecycle.FlowService
	users      *lifecycle.UserService
	flowErrors *flowerrors.Service
	mailbox    *mailbox.Store
}

func newRouter(flows *lifecycle.FlowService, users *lifecycle.UserService, flowErrors *flowerrors.Service, mailboxStore *mailbox.Store) *gin.Engine {
	server := &apiServer{
		flows:      flows,
		users:      users,
		flowErrors: flowErrors,
		mailbox:    mailboxStore,
	}

	router := gin.Default()
	api := router.Group("/api")

	api.POST("/flows", server.createFlow)
	api.GET("/flows", server.listFlows)
	api.GET("/flows/:id", server.getFlow)
	api.DELETE("/flows/:id", server.deleteFlow)
	api.POST("/flows/:id/start", server.startFlow)
	api.POST("/flows/:id/stop", server.stopFlow)
	api.GET("/flows/:id/errors", server.listFlowErrors)
	api.DELETE("/flows/:id/errors", server.deleteFlowErrors)
	api.DELETE("/errors/:id", server.deleteError)

	api.POST("/users", server.registerUser)
	api.DELETE("/users/:id", server.deleteUser)
	api.POST("/users/:id/apikey", server.regenerateAPIKey)
	api.GET("/users/:id/errors", server.listOwnerErrors)
	api.GET("/users/:id/notifications", server.drainNotifications)
	api.GET("/users/:id/notifications/pending", server.pendingNotifications)

	return router
}

type createFlowRequest struct {
	Name       string   `json:"name"`
	OwnerEmail string   `json:"owner_email"`
	Function   string   `json:"function"`
	Packages   []string `json:"packages"`
}

func (s *apiServer) createFlow(c *gin.Context) {
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow, err := s.flows.Create(c.Request.Context(), lifecycle.FlowSpec{
		Name:       req.Name,
		OwnerEmail: req.OwnerEmail,
		Function:   req.Function,
		Packages:   req.Packages,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, flow)
}

func (s *apiServer) listFlows(c *gin.Context) {
	ctx := c.Request.Context()
	if owner := c.Query("owner"); owner != "" {
		flows, err := s.flows.FindByOwner(ctx, owner)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, flows)
		return
	}

	flows, err := s.flows.FindAll(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flows)
}

func (s *apiServer) getFlow(c *gin.Context) {
	flow, err := s.flows.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if flow == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *apiServer) deleteFlow(c *gin.Context) {
	if err := s.flows.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) startFlow(c *gin.Context) {
	if err := s.flows.Start(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) stopFlow(c *gin.Context) {
	if err := s.flows.Stop(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) listFlowErrors(c *gin.Context) {
	ctx := c.Request.Context()
	flowID := c.Param("id")

	if c.Query("unique") == "true" {
		flowErrors, err := s.flowErrors.UniqueErrorsByFlow(ctx, flowID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, flowErrors)
		return
	}

	flowErrors, err := s.flowErrors.ErrorsByFlow(ctx, flowID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flowErrors)
}

func (s *apiServer) deleteFlowErrors(c *gin.Context) {
	if err := s.flowErrors.DeleteAllByFlow(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) deleteError(c *gin.Context) {
	if err := s.flowErrors.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type registerUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *apiServer) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.Register(c.Request.Context(), lifecycle.RegisterSpec{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      user.ID,
		"email":   user.Email,
		"api_key": user.APIKey,
	})
}

func (s *apiServer) deleteUser(c *gin.Context) {
	if err := s.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) regenerateAPIKey(c *gin.Context) {
	key, err := s.users.RegenerateAPIKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

func (s *apiServer) listOwnerErrors(c *gin.Context) {
	flowErrors, err := s.flowErrors.ErrorsByOwner(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flowErrors)
}

// drainNotifications returns and removes the user's pending mailbox
// messages. Each message is delivered exactly once.
func (s *apiServer) drainNotifications(c *gin.Context) {
	messages := s.mailbox.DrainAll(c.Param("id"))
	if messages == nil {
		messages = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *apiServer) pendingNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.mailbox.HasPending(c.Param("id"))})
}

func respondError(c *gin.Context, err error) {
	var validationErr *lifecycle.ValidationError
	var notFound *lifecycle.NotFoundError
	var failure *webhook.TargetFailure

	switch {
	case errors.As(err, &validationErr), errors.Is(err, lifecycle.ErrNoCreateTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &failure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
