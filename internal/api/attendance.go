package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
)

const staffKeyHeader = "X-Staff-Key"

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceFingerprint string `json:"device_fingerprint" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repo.UpsertDevice(c.Request.Context(), req.DeviceFingerprint); err != nil {
		writeError(c, fmt.Errorf("%w: %v", attendance.ErrStore, err))
		return
	}
	tok, err := auth.Issue(req.DeviceFingerprint, auth.RoleDevice, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.DeviceTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.AccessToken,
		"expires_at":   tok.ExpiresAt.Unix(),
	})
}

// issueStaffToken trades the shared staff key for a role token. The identity
// provider in front of this service is trusted to have authenticated the subject.
func (h *Handler) issueStaffToken(c *gin.Context) {
	if h.cfg.StaffAPIKey == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff token issuance disabled"})
		return
	}
	key := c.GetHeader(staffKeyHeader)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.StaffAPIKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid staff key"})
		return
	}
	var req struct {
		Subject string `json:"subject" binding:"required,max=128"`
		Role    string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !auth.ValidStaffRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin, teacher or doctor"})
		return
	}
	tok, err := auth.Issue(req.Subject, req.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.StaffTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.AccessToken,
		"role":         req.Role,
		"expires_at":   tok.ExpiresAt.Unix(),
	})
}

func (h *Handler) submitAttendance(c *gin.Context) {
	var req struct {
		SessionID         string               `json:"session_id" binding:"required"`
		ScannedID         string               `json:"scanned_id" binding:"required"`
		DeviceFingerprint string               `json:"device_fingerprint"`
		Geo               *attendance.GeoPoint `json:"geo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)
	if req.DeviceFingerprint != "" && req.DeviceFingerprint != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "device mismatch"})
		return
	}
	if g := req.Geo; g != nil && (g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geo out of range"})
		return
	}

	// server clock only; offline retries resubmit and are judged on arrival
	dec, err := h.svc.Submit(c.Request.Context(), attendance.SubmitRequest{
		SessionID:         req.SessionID,
		ScannedID:         req.ScannedID,
		DeviceFingerprint: claims.Subject,
		ClientIP:          c.ClientIP(),
		Geo:               req.Geo,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"outcome": dec.Outcome, "accepted": dec.Accepted()}
	if dec.Reason != attendance.ReasonNone {
		body["reason"] = dec.Reason
	}
	if dec.Submission != nil {
		body["submission_id"] = dec.Submission.ID
		body["submitted_at"] = dec.Submission.SubmittedAt
	}
	c.JSON(decisionStatus(dec), body)
}

func decisionStatus(dec attendance.Decision) int {
	switch {
	case dec.Outcome == attendance.OutcomeAccepted:
		return http.StatusCreated
	case dec.Outcome == attendance.OutcomeDuplicate:
		return http.StatusOK
	case dec.Reason == attendance.ReasonSessionNotFound:
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}
