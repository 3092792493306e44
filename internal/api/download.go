package api

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

// handleDownload serves memory-stored objects behind signed URLs.
func (s *Server) handleDownload(c *gin.Context) {
	key, expires, sig := c.Query("key"), c.Query("expires"), c.Query("sig")
	if key == "" || expires == "" || sig == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing parameters"})
		return
	}
	data, contentType, err := s.deps.Downloads.Open(key, expires, sig)
	switch {
	case errors.Is(err, storage.ErrBadSignature):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired url"})
		return
	case errors.Is(err, storage.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	case err != nil:
		s.fail(c, err)
		return
	}
	name := path.Base(key)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+name+"\"")
	http.ServeContent(c.Writer, c.Request, name, time.Time{}, bytes.NewReader(data))
}
