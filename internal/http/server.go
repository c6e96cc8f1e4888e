package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/example/helpdesk/internal/auth"
	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/lifecycle"
	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/service"
	"github.com/example/helpdesk/internal/visibility"
)

// Requests is the service surface the API exposes.
type Requests interface {
	Create(ctx context.Context, actor models.Principal, d lifecycle.Draft) (*models.Request, error)
	Get(ctx context.Context, actor models.Principal, id string) (*models.Request, error)
	List(ctx context.Context, actor models.Principal, q visibility.Query, page, limit int) (*service.Page, error)
	Update(ctx context.Context, actor models.Principal, id string, in service.UpdateInput) (*models.Request, error)
	Delete(ctx context.Context, actor models.Principal, id string) error
	Messages(ctx context.Context, actor models.Principal, id string) ([]models.Message, error)
}

// Server wraps the gin engine and collaborators needed to handle API requests.
type Server struct {
	Engine   *gin.Engine
	requests Requests
	tokens   *auth.TokenService
	log      logrus.FieldLogger
}

// NewServer constructs a new API server and registers routes.
func NewServer(requests Requests, tokens *auth.TokenService, log logrus.FieldLogger, metricsPath string) *Server {
	registerValidatorTagNames()

	router := gin.New()
	router.Use(gin.Recovery(), accessLog(log))
	srv := &Server{Engine: router, requests: requests, tokens: tokens, log: log}
	srv.registerRoutes(metricsPath)
	return srv
}

func (s *Server) registerRoutes(metricsPath string) {
	s.Engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsPath != "" {
		s.Engine.GET(metricsPath, gin.WrapH(metrics.Handler()))
	}

	api := s.Engine.Group("/api", auth.Middleware(s.tokens))
	api.POST("/requests", s.createRequest)
	api.GET("/requests", s.listRequests)
	api.GET("/requests/:request_id", s.getRequest)
	api.PUT("/requests/:request_id", s.updateRequest)
	api.DELETE("/requests/:request_id", s.deleteRequest)
	api.GET("/requests/:request_id/messages", s.listMessages)
}

type createPayload struct {
	Facility    string `json:"facility" binding:"required"`
	Title       string `json:"title" binding:"required,max=255"`
	Severity    string `json:"severity" binding:"required,oneof=Low Medium High"`
	Description string `json:"description" binding:"required"`
}

func (s *Server) createRequest(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var payload createPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.writeError(c, bindError(err))
		return
	}

	req, err := s.requests.Create(c.Request.Context(), actor, lifecycle.Draft{
		Facility:    payload.Facility,
		Title:       payload.Title,
		Severity:    models.Severity(payload.Severity),
		Description: payload.Description,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type listQuery struct {
	Status      string `form:"status"`
	Facility    string `form:"facility"`
	Severity    string `form:"severity"`
	Page        int    `form:"page,default=1"`
	Limit       int    `form:"limit,default=10"`
	CreatedByMe bool   `form:"created_by_me"`
	AssignedTo  string `form:"assigned_to"`
	NeedHandle  bool   `form:"need_handle"`
}

func (s *Server) listRequests(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, bindError(err))
		return
	}

	page, err := s.requests.List(c.Request.Context(), actor, visibility.Query{
		Status:      q.Status,
		Facility:    q.Facility,
		Severity:    q.Severity,
		CreatedByMe: q.CreatedByMe,
		AssignedTo:  q.AssignedTo,
		NeedHandle:  q.NeedHandle,
	}, q.Page, q.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getRequest(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	req, err := s.requests.Get(c.Request.Context(), actor, c.Param("request_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) listMessages(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	msgs, err := s.requests.Messages(c.Request.Context(), actor, c.Param("request_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// updatePayload mirrors the update contract. assigned_by is accepted but
// never applied: the engine records the acting manager itself.
type updatePayload struct {
	UpdateAction  string `json:"update_action" binding:"required"`
	Status        string `json:"status"`
	Remarks       string `json:"remarks"`
	AssignedBy    string `json:"assigned_by"`
	AssignedTo    string `json:"assigned_to"`
	ClosingReason string `json:"closing_reason"`
	ManagerHandle string `json:"manager_handle"`
}

func (s *Server) updateRequest(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var payload updatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.writeError(c, bindError(err))
		return
	}

	req, err := s.requests.Update(c.Request.Context(), actor, c.Param("request_id"), service.UpdateInput{
		Action:        payload.UpdateAction,
		Status:        payload.Status,
		ManagerHandle: payload.ManagerHandle,
		Payload: lifecycle.Payload{
			AssignedTo:    payload.AssignedTo,
			Remarks:       payload.Remarks,
			ClosingReason: payload.ClosingReason,
		},
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) deleteRequest(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	if err := s.requests.Delete(c.Request.Context(), actor, c.Param("request_id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) actor(c *gin.Context) (models.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated", "kind": errs.KindUnauthenticated})
	}
	return p, ok
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if p, ok := auth.PrincipalFrom(c); ok {
			fields["actor"] = p.UserID
		}
		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Request.URL.Path == "/health":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}
