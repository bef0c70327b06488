package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"campustrack/internal/attendance"
	"campustrack/internal/directory"
)

// Handler exposes the attendance core over HTTP.
type Handler struct {
	svc    *attendance.Service
	enroll *directory.Enroller
	log    *slog.Logger
}

// New wires the handler.
func New(svc *attendance.Service, enroll *directory.Enroller, log *slog.Logger) *Handler {
	return &Handler{svc: svc, enroll: enroll, log: log}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	att := r.Group("/api/attendance")
	att.POST("/start-session", h.startSession)
	att.POST("/stop-session", h.stopSession)
	att.GET("/active-session", h.activeSession)
	att.POST("/log", h.logAttendance)
	att.POST("/mark-excused", h.markExcused)
	att.POST("/mark-absent", h.markAbsent)
	att.GET("/has-logged", h.hasLogged)
	att.GET("/sessions", h.sessions)
	att.GET("/sessions/:class_id", h.sessionsByClass)

	face := r.Group("/api/face")
	face.POST("/multi-recognize", h.multiRecognize)
	face.POST("/register-student", h.registerStudent)
	face.POST("/register-instructor", h.registerInstructor)
}

// fail translates domain errors to HTTP responses. Unexpected errors are
// logged with context and surfaced as a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, attendance.ErrLogNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNoMatchingEntry):
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching record found"})
	case errors.Is(err, attendance.ErrNoActiveSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active attendance session found"})
	case errors.Is(err, attendance.ErrInstructorNotRegistered):
		c.JSON(http.StatusBadRequest, gin.H{"error": "instructor must register face first"})
	case errors.Is(err, attendance.ErrFaceService):
		h.log.Error("recognition service failure", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "AI service unreachable or failed"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		ClassID      string `json:"class_id" binding:"required"`
		InstructorID string `json:"instructor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing class_id or instructor_id"})
		return
	}
	session, err := h.svc.StartSession(c.Request.Context(), req.ClassID, req.InstructorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "attendance session started",
		"session": session,
	})
}

func (h *Handler) stopSession(c *gin.Context) {
	var req struct {
		ClassID string `json:"class_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing class_id"})
		return
	}
	logID, absent, err := h.svc.StopSession(c.Request.Context(), req.ClassID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"log_id":       logID,
		"absent_count": absent,
	})
}

func (h *Handler) activeSession(c *gin.Context) {
	cls, err := h.svc.ActiveSession(c.Request.Context(), c.Query("instructor_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if cls == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":        true,
		"class":         cls,
		"instructor_id": cls.InstructorID,
	})
}

func (h *Handler) multiRecognize(c *gin.Context) {
	var req struct {
		ClassID string            `json:"class_id" binding:"required"`
		Faces   []json.RawMessage `json:"faces" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing faces or class_id"})
		return
	}
	batch, err := h.svc.Recognize(c.Request.Context(), req.ClassID, req.Faces)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":               batch.Message == "",
		"message":               batch.Message,
		"logged":                batch.Logged,
		"count":                 batch.Count,
		"instructor_detected":   batch.InstructorDetected,
		"instructor_id":         batch.InstructorID,
		"instructor_first_name": batch.InstructorFirstName,
		"instructor_last_name":  batch.InstructorLastName,
		"subject_code":          batch.SubjectCode,
		"subject_title":         batch.SubjectTitle,
	})
}

func (h *Handler) logAttendance(c *gin.Context) {
	var req struct {
		ClassID string `json:"class_id" binding:"required"`
		Student struct {
			StudentID string `json:"student_id" binding:"required"`
			FirstName string `json:"first_name" binding:"required"`
			LastName  string `json:"last_name" binding:"required"`
		} `json:"student" binding:"required"`
		Date   string `json:"date"`
		Status string `json:"status" binding:"omitempty,oneof=Present Late Absent Excused"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing class_id or student fields"})
		return
	}
	entry, err := h.svc.LogAttendance(c.Request.Context(), attendance.LogRequest{
		ClassID:   req.ClassID,
		StudentID: req.Student.StudentID,
		FirstName: req.Student.FirstName,
		LastName:  req.Student.LastName,
		Date:      req.Date,
		Status:    attendance.Status(req.Status),
	})
	if err != nil {
		if errors.Is(err, attendance.ErrPastCutoff) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success":    false,
				"message":    "Too late (>30 minutes). Attendance not recorded.",
				"class_id":   req.ClassID,
				"student_id": req.Student.StudentID,
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "attendance recorded as " + string(entry.Status),
		"class_id":   req.ClassID,
		"student_id": entry.StudentID,
		"status":     entry.Status,
		"time":       entry.Time,
	})
}

func (h *Handler) markExcused(c *gin.Context) {
	var req struct {
		StudentID    string `json:"student_id" binding:"required"`
		ClassID      string `json:"class_id" binding:"required"`
		Date         string `json:"date" binding:"required"`
		Reason       string `json:"reason"`
		InstructorID string `json:"instructor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	err := h.svc.MarkExcused(c.Request.Context(), attendance.ExcuseRequest{
		StudentID:    req.StudentID,
		ClassID:      req.ClassID,
		Date:         req.Date,
		Reason:       req.Reason,
		InstructorID: req.InstructorID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "student marked as Excused",
		"student_id": req.StudentID,
		"class_id":   req.ClassID,
		"reason":     req.Reason,
	})
}

func (h *Handler) markAbsent(c *gin.Context) {
	var req struct {
		ClassID  string                     `json:"class_id" binding:"required"`
		Students []attendance.AbsentStudent `json:"students" binding:"required"`
		Date     string                     `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing class_id or students"})
		return
	}
	marked, err := h.svc.MarkAbsent(c.Request.Context(), req.ClassID, req.Students, req.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "absent marked where missing",
		"class_id": req.ClassID,
		"count":    marked,
	})
}

func (h *Handler) hasLogged(c *gin.Context) {
	studentID := c.Query("student_id")
	classID := c.Query("class_id")
	if studentID == "" || classID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing student_id or class_id"})
		return
	}
	exists, err := h.svc.HasLogged(c.Request.Context(), classID, studentID, c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (h *Handler) sessions(c *gin.Context) {
	logs, err := h.svc.Sessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": logs})
}

func (h *Handler) sessionsByClass(c *gin.Context) {
	logs, err := h.svc.SessionsByClass(c.Request.Context(), c.Param("class_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": logs})
}

type enrollRequest struct {
	FirstName  string          `json:"first_name"`
	MiddleName string          `json:"middle_name"`
	LastName   string          `json:"last_name"`
	Suffix     string          `json:"suffix"`
	Course     string          `json:"course"`
	Image      json.RawMessage `json:"image" binding:"required"`
}

func (h *Handler) registerStudent(c *gin.Context) {
	var req struct {
		enrollRequest
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing student_id or image"})
		return
	}
	outcome, err := h.enroll.EnrollStudent(c.Request.Context(), directory.EnrollRequest{
		ID:         req.StudentID,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Suffix:     req.Suffix,
		Course:     req.Course,
		Image:      req.Image,
	})
	h.enrollResponse(c, outcome, err)
}

func (h *Handler) registerInstructor(c *gin.Context) {
	var req struct {
		enrollRequest
		InstructorID string `json:"instructor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing instructor_id or image"})
		return
	}
	outcome, err := h.enroll.EnrollInstructor(c.Request.Context(), directory.EnrollRequest{
		ID:         req.InstructorID,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Suffix:     req.Suffix,
		Image:      req.Image,
	})
	h.enrollResponse(c, outcome, err)
}

// enrollResponse mirrors the recognition service's soft failure: a capture
// with no usable face is a 200 with a warning, not an error.
func (h *Handler) enrollResponse(c *gin.Context, outcome *directory.EnrollOutcome, err error) {
	if err != nil {
		if errors.Is(err, directory.ErrNoEmbeddings) {
			c.JSON(http.StatusOK, gin.H{"success": false, "warning": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      outcome.ID,
		"angle":   outcome.Angle,
		"message": "registration successful and saved",
	})
}
