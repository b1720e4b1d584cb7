package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

func (s *Server) handleListActivityLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, err := s.deps.Store.ListActivityLogs(accountID(c), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleListActivityMessages(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, errors.Newf(errors.KindBadRequest, "detail", "invalid activity log id"))
		return
	}

	messages, err := s.deps.Store.ListActivityLogMessages(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if messages == nil {
		messages = []models.ActivityLogMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
