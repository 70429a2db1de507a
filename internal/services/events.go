package services

import (
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/models"
)

var eventDB *gorm.DB

// InitEventLogger wires the package-level event helpers to the database.
func InitEventLogger(db *gorm.DB) {
	eventDB = db
}

func LogInfo(module, action, message string, userID *uint, clientID, ip, userAgent string, extra interface{}) {
	recordEvent("info", module, action, message, userID, clientID, ip, userAgent, extra)
}

func LogWarning(module, action, message string, userID *uint, clientID, ip, userAgent string, extra interface{}) {
	recordEvent("warning", module, action, message, userID, clientID, ip, userAgent, extra)
}

func LogError(module, action, message string, userID *uint, clientID, ip, userAgent string, extra interface{}) {
	recordEvent("error", module, action, message, userID, clientID, ip, userAgent, extra)
}

// LogSecurity records events an operator should review: reuse detections,
// family revocations, failed logins.
func LogSecurity(module, action, message string, userID *uint, clientID, ip, userAgent string, extra interface{}) {
	recordEvent("security", module, action, message, userID, clientID, ip, userAgent, extra)
}

func recordEvent(level, module, action, message string, userID *uint, clientID, ip, userAgent string, extra interface{}) {
	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		ClientID:  clientID,
		IP:        ip,
		UserAgent: userAgent,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}

	if q := GetEventQueue(); q != nil {
		if err := q.Enqueue(entry); err == nil {
			return
		}
		// Queue failure falls through to a direct write so security events
		// are not lost.
	}

	if eventDB != nil {
		eventDB.Create(entry)
	}
}

type EventService struct {
	db *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db}
}

type EventListRequest struct {
	Page      int    `form:"page" binding:"min=1"`
	PageSize  int    `form:"page_size" binding:"min=1,max=100"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	ClientID  string `form:"client_id"`
	UserID    *uint  `form:"user_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type EventListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *EventService) Create(entry *models.SystemLog) error {
	return s.db.Create(entry).Error
}

func (s *EventService) List(req *EventListRequest) (*EventListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var events []models.SystemLog
	var total int64

	query := s.db.Model(&models.SystemLog{})

	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.ClientID != "" {
		query = query.Where("client_id = ?", req.ClientID)
	}
	if req.UserID != nil {
		query = query.Where("user_id = ?", *req.UserID)
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&events).Error; err != nil {
		return nil, err
	}

	return &EventListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    events,
	}, nil
}

func (s *EventService) GetModules() ([]string, error) {
	var modules []string
	if err := s.db.Model(&models.SystemLog{}).Distinct("module").Pluck("module", &modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

// CleanupOldEvents deletes events older than the retention window and
// returns the number of deleted rows.
func (s *EventService) CleanupOldEvents(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *EventService) GetRetentionDays() int {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", "log_retention_days").First(&cfg).Error; err != nil {
		return 30
	}

	days, err := strconv.Atoi(cfg.Value)
	if err != nil {
		return 30
	}
	return days
}
