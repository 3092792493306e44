package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
)

// handleValidateToken follows the public link contract: 400 malformed,
// 404 unknown, 410 expired or withdrawn, 200 otherwise.
func (s *Server) handleValidateToken(c *gin.Context) {
	st, err := s.deps.Signing.ValidateToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if st != nil && errors.Is(err, apperr.ErrTokenExpired) {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{
				"error":     err.Error(),
				"code":      apperr.CodeOf(err),
				"valid":     false,
				"expired":   true,
				"expiresAt": st.ExpiresAt,
			})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleSigningView(c *gin.Context) {
	view, err := s.deps.Signing.FetchSigningView(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type valueRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSubmitValue(c *gin.Context) {
	var req valueRequest
	if !s.bind(c, &req) {
		return
	}
	view, err := s.deps.Signing.SubmitFieldValue(c.Request.Context(), c.Param("token"), c.Param("id"), req.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleComplete(c *gin.Context) {
	done, err := s.deps.Signing.CompleteSigningSession(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, done)
}
