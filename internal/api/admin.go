package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
)

func (h *Handler) createStudent(c *gin.Context) {
	var req struct {
		ID       string  `json:"id" binding:"omitempty,max=36"`
		ScanCode string  `json:"scan_code" binding:"required,max=128"`
		Name     string  `json:"name" binding:"required,max=160"`
		Email    *string `json:"email" binding:"omitempty,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := &attendance.Student{ID: req.ID, ScanCode: req.ScanCode, Name: req.Name, Email: req.Email}
	if err := h.repo.CreateStudent(c.Request.Context(), st); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) listStudents(c *gin.Context) {
	limit, offset := page(c)
	students, err := h.repo.ListStudents(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) resolveStudent(c *gin.Context) {
	st, err := h.repo.FindStudentByScanCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) createCourse(c *gin.Context) {
	var req struct {
		Code      string `json:"code" binding:"required,max=64"`
		Name      string `json:"name" binding:"required,max=160"`
		TeacherID string `json:"teacher_id" binding:"required,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course := &attendance.Course{Code: req.Code, Name: req.Name, TeacherID: req.TeacherID}
	if err := h.repo.CreateCourse(c.Request.Context(), course); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

// listCourses scopes teachers to the courses they teach.
func (h *Handler) listCourses(c *gin.Context) {
	teacherID := c.Query("teacher_id")
	if a := actor(c); a.Role == auth.RoleTeacher {
		teacherID = a.ID
	}
	courses, err := h.repo.ListCourses(c.Request.Context(), teacherID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *Handler) listFraudSignals(c *gin.Context) {
	f := attendance.SignalFilter{
		SessionID: c.Query("session_id"),
		Type:      attendance.SignalType(c.Query("type")),
	}
	if f.Type != "" && !f.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal type"})
		return
	}
	f.Limit, f.Offset = page(c)
	signals, err := h.repo.ListFraudSignals(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fraud_signals": signals})
}

func (h *Handler) getSettings(c *gin.Context) {
	s, err := h.repo.GetSettings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// updateSettings applies a partial update; omitted fields keep their value.
func (h *Handler) updateSettings(c *gin.Context) {
	var req struct {
		MaxSubmissionsPerDevicePerSession *int     `json:"max_submissions_per_device_per_session" binding:"omitempty,min=0"`
		MaxSubmissionsPerIPPerSession     *int     `json:"max_submissions_per_ip_per_session" binding:"omitempty,min=0"`
		GeofenceRadiusMeters              *float64 `json:"geofence_radius_meters" binding:"omitempty,gt=0"`
		GeofencingEnabled                 *bool    `json:"geofencing_enabled"`
		OfflineRetriesAllowed             *int     `json:"offline_retries_allowed" binding:"omitempty,min=0"`
		SubmissionGraceSeconds            *int     `json:"submission_grace_seconds" binding:"omitempty,min=0,max=3600"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	s, err := h.repo.GetSettings(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.MaxSubmissionsPerDevicePerSession != nil {
		s.MaxSubmissionsPerDevicePerSession = *req.MaxSubmissionsPerDevicePerSession
	}
	if req.MaxSubmissionsPerIPPerSession != nil {
		s.MaxSubmissionsPerIPPerSession = *req.MaxSubmissionsPerIPPerSession
	}
	if req.GeofenceRadiusMeters != nil {
		s.GeofenceRadiusMeters = *req.GeofenceRadiusMeters
	}
	if req.GeofencingEnabled != nil {
		s.GeofencingEnabled = *req.GeofencingEnabled
	}
	if req.OfflineRetriesAllowed != nil {
		s.OfflineRetriesAllowed = *req.OfflineRetriesAllowed
	}
	if req.SubmissionGraceSeconds != nil {
		s.SubmissionGraceSeconds = *req.SubmissionGraceSeconds
	}
	if err := h.repo.UpdateSettings(ctx, &s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
