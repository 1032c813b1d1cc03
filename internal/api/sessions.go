package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
)

func (h *Handler) createSession(c *gin.Context) {
	var in attendance.SessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), actor(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	f := attendance.SessionFilter{CourseID: c.Query("course_id")}
	f.Limit, f.Offset = page(c)
	if c.Query("active") == "true" {
		now := time.Now().UTC()
		f.ActiveAt = &now
	}
	sessions, err := h.repo.ListSessions(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.repo.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) closeSession(c *gin.Context) {
	sess, err := h.svc.CloseSession(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) overrideSession(c *gin.Context) {
	var in attendance.OverrideInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.OverrideSession(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) listSubmissions(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.repo.GetSession(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	outcome := attendance.Outcome(c.Query("outcome"))
	switch outcome {
	case "", attendance.OutcomeAccepted, attendance.OutcomeRejected, attendance.OutcomeDuplicate:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome"})
		return
	}
	limit, offset := page(c)
	subs, err := h.repo.ListSubmissions(ctx, id, outcome, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}
