package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Handlers структура для обработчиков
type Handlers struct {
	db       *DatabaseManager
	storage  *StorageManager
	producer *KafkaProducer
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, err APIError) {
	h.respondJSON(w, err.Code, map[string]interface{}{
		"error":   err.Message,
		"details": err.Details,
		"code":    err.Code,
	})
}

func (h *Handlers) handleError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(APIError); ok {
		h.respondError(w, apiErr)
		return
	}
	h.respondError(w, NewInternalError(err.Error()))
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "healthy",
		"service": "coaching-service",
		"time":    time.Now().UTC(),
	}

	h.respondJSON(w, http.StatusOK, status)
}

// CreateCoachingPoint принимает завершённую сессию наррации целиком,
// стейджит аудио на диск и публикует persist задачу. Само сохранение
// асинхронное: клиенту сразу возвращается 202 + point_id.
func (h *Handlers) CreateCoachingPoint(w http.ResponseWriter, r *http.Request) {
	var req CreatePointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, NewValidationError("invalid request body: "+err.Error()))
		return
	}

	if req.Title == "" {
		h.respondError(w, NewValidationError("title is required"))
		return
	}
	if req.DurationMs <= 0 {
		h.respondError(w, NewValidationError("duration_ms must be positive"))
		return
	}

	// Порядок событий — ответственность рекордера, но на границе API
	// битый лог отклоняем сразу
	if err := ValidateEventLog(req.Events, req.DurationMs); err != nil {
		h.respondError(w, NewValidationError("invalid event log: "+err.Error()))
		return
	}

	pointID := uuid.New().String()

	// Стейджинг аудио: до MinIO оно доедет в worker'е
	audioPath := ""
	audioMissing := req.AudioMissing
	if !audioMissing && req.AudioBase64 != "" {
		staged, err := stageAudio(pointID, req.AudioBase64)
		if err != nil {
			h.respondError(w, NewValidationError("invalid audio payload: "+err.Error()))
			return
		}
		audioPath = staged
	} else {
		audioMissing = true
	}

	// Лог привязываем к новому point_id
	events := make([]RecordingEvent, len(req.Events))
	copy(events, req.Events)
	for i := range events {
		events[i].PointID = pointID
	}

	task := PersistTask{
		PointID:       pointID,
		AuthorID:      req.AuthorID,
		AuthorName:    req.AuthorName,
		Title:         req.Title,
		Action:        "persist_point",
		AudioPath:     audioPath,
		AudioMissing:  audioMissing,
		DurationMs:    req.DurationMs,
		Events:        events,
		TaggedViewers: req.TaggedViewers,
		Labels:        req.Labels,
		Timestamp:     time.Now(),
	}

	if err := h.producer.SendPersistTask(r.Context(), task); err != nil {
		h.storage.RemoveLocalFile(audioPath)
		h.handleError(w, NewInternalError("failed to queue persist task: "+err.Error()))
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreatePointResponse{
		PointID: pointID,
		Status:  "processing",
	})
}

// stageAudio декодирует base64 наррацию во временный файл
func stageAudio(pointID, audioBase64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	path := filepath.Join(os.TempDir(), pointID+".webm")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage audio: %w", err)
	}

	log.Printf("📁 Staged narration audio: %s (%d bytes)", path, len(data))
	return path, nil
}

// GetCoachingPoint запись + упорядоченный лог событий (конкурентно)
// + presigned ссылка на аудио для playback-слоя
func (h *Handlers) GetCoachingPoint(w http.ResponseWriter, r *http.Request) {
	pointID := mux.Vars(r)["pointId"]

	var point *CoachingPoint
	var events []RecordingEvent

	var g errgroup.Group
	g.Go(func() error {
		var err error
		point, err = h.db.GetCoachingPoint(pointID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = h.db.GetPointEvents(pointID)
		return err
	})

	if err := g.Wait(); err != nil {
		h.handleError(w, NewInternalError("Database query failed: "+err.Error()))
		return
	}

	if point == nil {
		h.respondError(w, NewNotFoundError("coaching point", pointID))
		return
	}

	resp := PointResponse{
		CoachingPoint: *point,
		Events:        events,
	}

	if point.AudioPath != nil && *point.AudioPath != "" {
		url, err := h.storage.PresignedAudioURL(r.Context(), *point.AudioPath, 1*time.Hour)
		if err != nil {
			// Аудио недоступно — drawings-only replay всё ещё возможен
			log.Printf("⚠️ Could not presign audio URL for %s: %v", pointID, err)
		} else {
			resp.AudioURL = &url
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetAudioURL presigned ссылка на наррацию
func (h *Handlers) GetAudioURL(w http.ResponseWriter, r *http.Request) {
	pointID := mux.Vars(r)["pointId"]

	point, err := h.db.GetCoachingPoint(pointID)
	if err != nil {
		h.handleError(w, NewInternalError("Database query failed: "+err.Error()))
		return
	}
	if point == nil {
		h.respondError(w, NewNotFoundError("coaching point", pointID))
		return
	}
	if point.AudioPath == nil || *point.AudioPath == "" {
		h.respondError(w, NewNotFoundError("narration audio", pointID))
		return
	}

	url, err := h.storage.PresignedAudioURL(r.Context(), *point.AudioPath, 1*time.Hour)
	if err != nil {
		h.handleError(w, NewInternalError("failed to generate audio URL: "+err.Error()))
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"point_id":  pointID,
		"audio_url": url,
		"expires":   time.Now().Add(1 * time.Hour).UTC(),
	})
}

// ListCoachingPoints список записей (page/limit)
func (h *Handlers) ListCoachingPoints(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 0 {
		page = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// +1 для проверки hasMore
	points, err := h.db.ListCoachingPoints(limit+1, page*limit)
	if err != nil {
		h.handleError(w, NewInternalError("Database query failed: "+err.Error()))
		return
	}

	hasMore := false
	if len(points) > limit {
		hasMore = true
		points = points[:limit]
	}

	resp := ListPointsResponse{
		Points:  make([]PointResponse, 0, len(points)),
		HasMore: hasMore,
		Page:    page,
		Limit:   limit,
	}
	for _, p := range points {
		resp.Points = append(resp.Points, PointResponse{CoachingPoint: p})
	}

	h.respondJSON(w, http.StatusOK, resp)
}
