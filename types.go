package main

import "time"

// PersistTask задача из Kafka на сохранение завершённой сессии наррации
type PersistTask struct {
	PointID       string           `json:"point_id"`
	AuthorID      int              `json:"author_id,omitempty"`
	AuthorName    string           `json:"author_name,omitempty"`
	Title         string           `json:"title"`
	Action        string           `json:"action"` // "persist_point"
	AudioPath     string           `json:"audio_path"` // staged local file, пусто в degraded режиме
	AudioMissing  bool             `json:"audio_missing,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	Events        []RecordingEvent `json:"events"`
	TaggedViewers []int            `json:"tagged_viewers,omitempty"`
	Labels        []string         `json:"labels,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// CoachingPoint запись в БД
type CoachingPoint struct {
	PointID      string    `json:"point_id" db:"point_id"`
	AuthorID     *int      `json:"author_id,omitempty" db:"author_id"`
	AuthorName   *string   `json:"author_name,omitempty" db:"author_name"`
	Title        string    `json:"title" db:"title"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
	AudioPath    *string   `json:"audio_path,omitempty" db:"audio_path"`
	AudioMissing bool      `json:"audio_missing" db:"audio_missing"`
	EventsSaved  bool      `json:"events_saved" db:"events_saved"`
	Status       string    `json:"status" db:"status"` // processing, ready, failed
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CoachingPointRecording durable агрегат: ссылка на аудио, длительность
// и упорядоченный лог событий. Создаётся один раз, не патчится.
type CoachingPointRecording struct {
	PointID      string           `json:"point_id"`
	AudioPath    string           `json:"audio_path,omitempty"`
	AudioMissing bool             `json:"audio_missing,omitempty"`
	DurationMs   int64            `json:"duration_ms"`
	Events       []RecordingEvent `json:"events"`
}

// PersistResult результат обработки задачи: primary атомарен,
// secondary failures репортятся независимо
type PersistResult struct {
	PointID       string
	AudioUploaded bool
	AudioURL      string
	EventsSaved   bool
	ViewersTagged bool
	LabelsSaved   bool
	Warnings      []string
}

// PointResponse ответ API: запись + presigned ссылка на аудио + лог событий
type PointResponse struct {
	CoachingPoint
	AudioURL *string          `json:"audio_url,omitempty"`
	Events   []RecordingEvent `json:"events,omitempty"`
}

type ListPointsResponse struct {
	Points  []PointResponse `json:"points"`
	HasMore bool            `json:"has_more"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

// CreatePointRequest тело POST /coaching-points: завершённая сессия целиком
type CreatePointRequest struct {
	Title         string           `json:"title"`
	AuthorID      int              `json:"author_id,omitempty"`
	AuthorName    string           `json:"author_name,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	AudioMissing  bool             `json:"audio_missing,omitempty"`
	AudioBase64   string           `json:"audio_base64,omitempty"` // webm/opus наррация
	Events        []RecordingEvent `json:"events"`
	TaggedViewers []int            `json:"tagged_viewers,omitempty"`
	Labels        []string         `json:"labels,omitempty"`
}

type CreatePointResponse struct {
	PointID string `json:"point_id"`
	Status  string `json:"status"`
}

// API Error types
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func NewValidationError(message string) APIError {
	return APIError{Code: 400, Message: message}
}

func NewNotFoundError(resource, id string) APIError {
	return APIError{Code: 404, Message: resource + " not found", Details: "ID: " + id}
}

func NewInternalError(message string) APIError {
	return APIError{Code: 500, Message: "Internal server error", Details: message}
}
