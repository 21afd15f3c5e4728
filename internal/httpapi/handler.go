// Package httpapi exposes the admin and participant HTTP surfaces over gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Haven-Lv/students-checkin-sytem/internal/auth"
	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
	"github.com/Haven-Lv/students-checkin-sytem/internal/config"
	"github.com/Haven-Lv/students-checkin-sytem/internal/export"
	"github.com/Haven-Lv/students-checkin-sytem/internal/metrics"
)

// AdminStore is what the admin endpoints need from persistence beyond the
// verifier's own collaborator contract.
type AdminStore interface {
	AdminByUsername(ctx context.Context, username string) (*checkin.Admin, error)
	CreateActivity(ctx context.Context, a *checkin.Activity) error
	ActivityByCode(ctx context.Context, code string) (*checkin.Activity, error)
	ActivitiesByAdmin(ctx context.Context, adminID int64) ([]checkin.Activity, error)
	UpdateActivity(ctx context.Context, a *checkin.Activity) error
	DeleteActivity(ctx context.Context, activityID int64) error
	ActivityLogs(ctx context.Context, activityID int64) ([]checkin.LogEntry, error)
}

// Handler carries the collaborators the endpoints dispatch into.
type Handler struct {
	svc   *checkin.Service
	store AdminStore
	cfg   config.App
	log   *zap.Logger
}

// New builds a handler.
func New(svc *checkin.Service, store AdminStore, cfg config.App, log *zap.Logger) *Handler {
	return &Handler{svc: svc, store: store, cfg: cfg, log: log}
}

// Register mounts all API routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	admin := r.Group("/api/admin")
	admin.POST("/login", h.AdminLogin)

	adminAuthed := admin.Group("", auth.Bearer(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, auth.RoleAdmin))
	adminAuthed.POST("/activities", h.CreateActivity)
	adminAuthed.GET("/activities", h.ListActivities)
	adminAuthed.PUT("/activities/:code", h.UpdateActivity)
	adminAuthed.DELETE("/activities/:code", h.DeleteActivity)
	adminAuthed.GET("/activities/:code/logs", h.ActivityLogs)
	adminAuthed.GET("/activities/:code/logs/export", h.ExportActivityLogs)
	adminAuthed.GET("/activities/:code/qr", h.ActivityQR)

	part := r.Group("/api/participant")
	part.GET("/activity/:code", h.ActivityDetails)
	part.GET("/activity/:code/qr", h.ActivityQR)
	part.POST("/checkin", h.LegacyCheckIn)
	part.POST("/checkout", h.LegacyCheckOut)
	part.POST("/request-code", h.RequestCode)
	part.POST("/register", h.RegisterParticipant)
	part.POST("/login", h.ParticipantLogin)

	me := part.Group("/me", auth.Bearer(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, auth.RoleStudent))
	me.POST("/checkin", h.AuthedCheckIn)
	me.POST("/checkout", h.AuthedCheckOut)
	me.GET("/open-log", h.OpenLog)
}

// writeError maps domain outcomes to HTTP responses. Soft rejections stay
// 4xx with a machine-readable kind; unexpected failures become opaque 500s.
func (h *Handler) writeError(c *gin.Context, err error) {
	var delivery *checkin.DeliveryError
	if errors.As(err, &delivery) {
		h.log.Warn("notification delivery failed", zap.Error(delivery.Err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not deliver email, try again later"})
		return
	}

	rej, ok := checkin.AsRejection(err)
	if !ok {
		h.log.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch rej.Kind {
	case checkin.KindActivityNotFound, checkin.KindSessionNotFound, checkin.KindParticipantNotFound:
		status = http.StatusNotFound
	case checkin.KindTenantMismatch:
		status = http.StatusForbidden
	}

	body := gin.H{"error": rej.Error(), "kind": rej.Kind}
	if rej.Kind == checkin.KindOutOfRange {
		body["distance_meters"] = rej.DistanceMeters
	}
	c.JSON(status, body)
}

// ---------- Admin ----------

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin verifies credentials and issues an admin bearer token.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin, err := h.store.AdminByUsername(c.Request.Context(), req.Username)
	if err != nil || !auth.VerifyPassword(req.Password, admin.PasswordHash) {
		if err != nil && !errors.Is(err, checkin.ErrNotFound) {
			h.log.Error("admin lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
		return
	}

	token, err := auth.IssueAdmin(admin.Username, admin.ID, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AdminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

type activityRequest struct {
	Name         string    `json:"name" binding:"required"`
	LocationName string    `json:"location_name" binding:"required"`
	Latitude     float64   `json:"latitude" binding:"min=-90,max=90"`
	Longitude    float64   `json:"longitude" binding:"min=-180,max=180"`
	RadiusMeters int       `json:"radius_meters" binding:"required,gt=0"`
	StartTime    time.Time `json:"start_time" binding:"required"`
	EndTime      time.Time `json:"end_time" binding:"required"`
}

// CreateActivity creates an activity under the authenticated admin with a
// fresh opaque check-in code.
func (h *Handler) CreateActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.EndTime.After(req.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
		return
	}

	claims, _ := auth.FromContext(c)
	act := &checkin.Activity{
		AdminID:      claims.AdminID,
		Name:         req.Name,
		LocationName: req.LocationName,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		UniqueCode:   uuid.NewString(),
	}
	if err := h.store.CreateActivity(c.Request.Context(), act); err != nil {
		h.log.Error("create activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create activity"})
		return
	}
	c.JSON(http.StatusCreated, act)
}

// ListActivities returns the admin's activities.
func (h *Handler) ListActivities(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	activities, err := h.store.ActivitiesByAdmin(c.Request.Context(), claims.AdminID)
	if err != nil {
		h.log.Error("list activities failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if activities == nil {
		activities = []checkin.Activity{}
	}
	c.JSON(http.StatusOK, activities)
}

// ownedActivity resolves :code and enforces that it belongs to the calling
// admin. Foreign activities read as absent rather than forbidden.
func (h *Handler) ownedActivity(c *gin.Context) (*checkin.Activity, bool) {
	claims, _ := auth.FromContext(c)
	act, err := h.store.ActivityByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		} else {
			h.log.Error("activity lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return nil, false
	}
	if act.AdminID != claims.AdminID {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return nil, false
	}
	return act, true
}

// UpdateActivity rewrites the mutable fields of an owned activity.
func (h *Handler) UpdateActivity(c *gin.Context) {
	act, ok := h.ownedActivity(c)
	if !ok {
		return
	}

	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.EndTime.After(req.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
		return
	}

	act.Name = req.Name
	act.LocationName = req.LocationName
	act.Latitude = req.Latitude
	act.Longitude = req.Longitude
	act.RadiusMeters = req.RadiusMeters
	act.StartTime = req.StartTime
	act.EndTime = req.EndTime

	if err := h.store.UpdateActivity(c.Request.Context(), act); err != nil {
		h.log.Error("update activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update activity"})
		return
	}
	c.JSON(http.StatusOK, act)
}

// DeleteActivity removes an owned activity and its logs.
func (h *Handler) DeleteActivity(c *gin.Context) {
	act, ok := h.ownedActivity(c)
	if !ok {
		return
	}
	if err := h.store.DeleteActivity(c.Request.Context(), act.ID); err != nil {
		h.log.Error("delete activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "activity and all attendance logs deleted"})
}

// ActivityLogs returns the attendance rows for an owned activity.
func (h *Handler) ActivityLogs(c *gin.Context) {
	act, ok := h.ownedActivity(c)
	if !ok {
		return
	}
	logs, err := h.store.ActivityLogs(c.Request.Context(), act.ID)
	if err != nil {
		h.log.Error("activity logs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if logs == nil {
		logs = []checkin.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"activity_name": act.Name, "logs": logs})
}

// ExportActivityLogs streams the attendance rows as an xlsx workbook.
func (h *Handler) ExportActivityLogs(c *gin.Context) {
	act, ok := h.ownedActivity(c)
	if !ok {
		return
	}
	logs, err := h.store.ActivityLogs(c.Request.Context(), act.ID)
	if err != nil {
		h.log.Error("activity logs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	buf, err := export.ActivityLogs(act, logs)
	if err != nil {
		h.log.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(act)))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ActivityQR renders the check-in link for an activity as a PNG QR code.
// Serves both the admin route (ownership enforced by ownedActivity when
// authenticated) and the public participant route.
func (h *Handler) ActivityQR(c *gin.Context) {
	code := c.Param("code")
	if _, authed := auth.FromContext(c); authed {
		if _, ok := h.ownedActivity(c); !ok {
			return
		}
	} else if _, err := h.store.ActivityByCode(c.Request.Context(), code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return
	}

	checkinURL := fmt.Sprintf("%s/checkin.html?code=%s", h.cfg.CheckinBaseURL, code)
	png, err := qrcode.Encode(checkinURL, qrcode.Medium, 256)
	if err != nil {
		h.log.Error("qr encode failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Participant ----------

// ActivityDetails returns the public fields shown on the check-in page.
func (h *Handler) ActivityDetails(c *gin.Context) {
	act, err := h.store.ActivityByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		} else {
			h.log.Error("activity lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":          act.Name,
		"location_name": act.LocationName,
		"start_time":    act.StartTime,
		"end_time":      act.EndTime,
	})
}

type legacyCheckInRequest struct {
	ActivityCode string  `json:"activity_code" binding:"required"`
	StudentID    string  `json:"student_id" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	Latitude     float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" binding:"min=-180,max=180"`
}

// LegacyCheckIn is the unauthenticated QR walk-up flow: identity is the
// self-reported (student_id, name) pair, tenant comes from the activity.
func (h *Handler) LegacyCheckIn(c *gin.Context) {
	var req legacyCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident := checkin.Identity{StudentID: req.StudentID, Name: req.Name}
	res, err := h.svc.CheckIn(c.Request.Context(), req.ActivityCode, ident, req.Latitude, req.Longitude)
	metrics.ObserveDecision("checkin", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":              "checked in",
		"device_session_token": res.SessionToken,
		"distance_meters":      res.DistanceMeters,
	})
}

type legacyCheckOutRequest struct {
	DeviceSessionToken string  `json:"device_session_token" binding:"required"`
	Latitude           float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude          float64 `json:"longitude" binding:"min=-180,max=180"`
}

// LegacyCheckOut closes a log by its session token.
func (h *Handler) LegacyCheckOut(c *gin.Context) {
	var req legacyCheckOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.svc.CheckOutByToken(c.Request.Context(), req.DeviceSessionToken, req.Latitude, req.Longitude)
	metrics.ObserveDecision("checkout", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checked out"})
}

type requestCodeRequest struct {
	ActivityCode string `json:"activity_code" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
}

// RequestCode emails a fresh verification code.
func (h *Handler) RequestCode(c *gin.Context) {
	var req requestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RequestCode(c.Request.Context(), req.ActivityCode, req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification code sent"})
}

type registerRequest struct {
	ActivityCode string `json:"activity_code" binding:"required"`
	StudentID    string `json:"student_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Code         string `json:"code" binding:"required,len=6"`
}

// RegisterParticipant creates an email-verified participant and issues a
// student token bound to the activity's tenant.
func (h *Handler) RegisterParticipant(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.svc.Register(c.Request.Context(), req.ActivityCode, req.StudentID, req.Name, req.Email, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.issueStudentToken(c, http.StatusCreated, p)
}

type participantLoginRequest struct {
	ActivityCode string `json:"activity_code" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Code         string `json:"code" binding:"required,len=6"`
}

// ParticipantLogin authenticates by emailed code and issues a student token.
func (h *Handler) ParticipantLogin(c *gin.Context) {
	var req participantLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.svc.Login(c.Request.Context(), req.ActivityCode, req.Email, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.issueStudentToken(c, http.StatusOK, p)
}

func (h *Handler) issueStudentToken(c *gin.Context, status int, p *checkin.Participant) {
	token, err := auth.IssueStudent(p.StudentID, p.AdminID, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.StudentTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{"access_token": token, "token_type": "bearer", "participant": p})
}

type coordinateRequest struct {
	ActivityCode string  `json:"activity_code" binding:"required"`
	Latitude     float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" binding:"min=-180,max=180"`
}

func identityFromClaims(claims auth.Claims) checkin.Identity {
	return checkin.Identity{TenantID: claims.AdminID, StudentID: claims.Subject, FromToken: true}
}

// AuthedCheckIn checks the token-identified participant in; no name is
// taken from the request.
func (h *Handler) AuthedCheckIn(c *gin.Context) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)

	res, err := h.svc.CheckIn(c.Request.Context(), req.ActivityCode, identityFromClaims(claims), req.Latitude, req.Longitude)
	metrics.ObserveDecision("checkin", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checked in", "distance_meters": res.DistanceMeters})
}

// AuthedCheckOut closes the participant's open log for the named activity.
func (h *Handler) AuthedCheckOut(c *gin.Context) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)

	err := h.svc.CheckOut(c.Request.Context(), req.ActivityCode, identityFromClaims(claims), req.Latitude, req.Longitude)
	metrics.ObserveDecision("checkout", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checked out"})
}

// OpenLog returns the participant's current open log with activity details.
func (h *Handler) OpenLog(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	info, err := h.svc.OpenLog(c.Request.Context(), identityFromClaims(claims))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activity": gin.H{
			"name":          info.Activity.Name,
			"unique_code":   info.Activity.UniqueCode,
			"location_name": info.Activity.LocationName,
			"start_time":    info.Activity.StartTime,
			"end_time":      info.Activity.EndTime,
		},
		"check_in_time": info.Log.CheckInTime,
	})
}
