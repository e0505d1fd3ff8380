package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/agentd"
)

// AgentService exposes an agentd.Controller over HTTP.
type AgentService struct {
	ctrl *agentd.Controller
}

func NewAgentService(ctrl *agentd.Controller) *AgentService {
	return &AgentService{ctrl: ctrl}
}

// Provision creates the run's log directory.
func (s *AgentService) Provision(c *gin.Context) {
	var req agent.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Dir == "" {
		c.JSON(http.StatusBadRequest, Error(CodeBadRequest, "request body must carry a dir"))
		return
	}
	if err := s.ctrl.Provision(req.Dir); err != nil {
		c.JSON(http.StatusInternalServerError, Error(CodeServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(gin.H{"dir": req.Dir}))
}

// Command runs one agent command. The answer is always the ack; a negative
// ack is reported with CodeRejected.
func (s *AgentService) Command(c *gin.Context) {
	kind := agent.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusNotFound, Error(CodeNotFound, "unknown command "+string(kind)))
		return
	}
	var cmd agent.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, Error(CodeBadRequest, "invalid command body: "+err.Error()))
		return
	}
	cmd.Kind = kind

	ack := s.ctrl.Handle(c.Request.Context(), cmd)
	if !ack.OK {
		c.JSON(http.StatusOK, ErrorWithData(CodeRejected, ack.Message, ack))
		return
	}
	c.JSON(http.StatusOK, Success(ack))
}

// ListFiles returns the names of host's files in dir.
func (s *AgentService) ListFiles(c *gin.Context) {
	dir, host := c.Query("dir"), c.Query("host")
	if dir == "" || host == "" {
		c.JSON(http.StatusBadRequest, Error(CodeBadRequest, "dir and host are required"))
		return
	}
	names, err := s.ctrl.Files(dir, host)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(CodeServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(names))
}

// GetFile streams one file from dir.
func (s *AgentService) GetFile(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		c.JSON(http.StatusBadRequest, Error(CodeBadRequest, "dir is required"))
		return
	}
	path, err := s.ctrl.FilePath(dir, c.Param("name"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, Error(CodeNotFound, err.Error()))
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, Error(CodeBadRequest, err.Error()))
		return
	}
	c.File(path)
}
