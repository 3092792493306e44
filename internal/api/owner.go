package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/tasks"
)

func (s *Server) handleListTasks(c *gin.Context) {
	list, err := s.deps.Tasks.ListTasks(c.Request.Context(), identity(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []*model.Task{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var in tasks.TaskInput
	if !s.bind(c, &in) {
		return
	}
	id := identity(c)
	task, err := s.deps.Tasks.CreateTask(c.Request.Context(), id.UserID, id.Email, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	detail, err := s.deps.Tasks.GetTask(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch tasks.TaskPatch
	if !s.bind(c, &patch) {
		return
	}
	task, err := s.deps.Tasks.UpdateTask(c.Request.Context(), identity(c).UserID, c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.deps.Tasks.DeleteTask(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status model.TaskStatus `json:"status"`
}

func (s *Server) handleTransition(c *gin.Context) {
	var req statusRequest
	if !s.bind(c, &req) {
		return
	}
	task, err := s.deps.Tasks.Transition(c.Request.Context(), identity(c).UserID, c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSend(c *gin.Context) {
	task, err := s.deps.Tasks.Send(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleRegenerateFinal(c *gin.Context) {
	res, err := s.deps.Tasks.RegenerateFinal(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListFiles(c *gin.Context) {
	files, err := s.deps.Tasks.ListFiles(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if files == nil {
		files = []*model.File{}
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) handleFileURL(c *gin.Context) {
	final, _ := strconv.ParseBool(c.Query("final"))
	url, err := s.deps.Tasks.FileURL(c.Request.Context(), identity(c).UserID, c.Param("id"), final)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": int64(s.cfg.SignedURLTTL.Seconds())})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	if err := s.deps.Tasks.DeleteFile(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRecipients(c *gin.Context) {
	list, err := s.deps.Tasks.ListRecipients(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []*model.Recipient{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleAddRecipient(c *gin.Context) {
	var in tasks.RecipientInput
	if !s.bind(c, &in) {
		return
	}
	rc, err := s.deps.Tasks.AddRecipient(c.Request.Context(), identity(c).UserID, c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rc)
}

func (s *Server) handleUpdateRecipient(c *gin.Context) {
	var in tasks.RecipientInput
	if !s.bind(c, &in) {
		return
	}
	rc, err := s.deps.Tasks.UpdateRecipient(c.Request.Context(), identity(c).UserID, c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (s *Server) handleRemoveRecipient(c *gin.Context) {
	if err := s.deps.Tasks.RemoveRecipient(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRegenerateToken(c *gin.Context) {
	rc, err := s.deps.Tasks.RegenerateToken(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipient": rc, "token": rc.Token})
}

func (s *Server) handleListPositions(c *gin.Context) {
	groups, err := s.deps.Positions.ListForRecipient(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if groups == nil {
		groups = []positions.FileGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) handleCreatePosition(c *gin.Context) {
	var in positions.CreateInput
	if !s.bind(c, &in) {
		return
	}
	view, conflict, err := s.deps.Positions.Create(c.Request.Context(), identity(c).UserID, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"position": view, "conflict": conflict})
}

type validateRequest struct {
	Page int         `json:"page"`
	Rect coords.Rect `json:"rect"`
}

func (s *Server) handleValidatePosition(c *gin.Context) {
	var req validateRequest
	if !s.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, coords.Validate(req.Rect, req.Page))
}

func (s *Server) handleUpdatePosition(c *gin.Context) {
	var patch positions.Patch
	if !s.bind(c, &patch) {
		return
	}
	actor := positions.Actor{Role: positions.RoleOwner, OwnerID: identity(c).UserID}
	view, err := s.deps.Positions.Update(c.Request.Context(), actor, c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeletePosition(c *gin.Context) {
	if err := s.deps.Positions.Delete(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
