package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecorderSession активная сессия наррации: единственный writer
// append-only лога. События никогда не удаляются и не переставляются.
type RecorderSession struct {
	PointID   string
	StartedAt time.Time

	// now инжектится в тестах, по умолчанию time.Now
	now func() time.Time

	mu      sync.Mutex
	events  []RecordingEvent
	stopped bool
}

// NewRecorderSession стартует сессию и снимает recording-start snapshot:
// уже существующие drawings + текущие speed/position транспорта
func NewRecorderSession(pointID string, snapshot StartPayload) (*RecorderSession, error) {
	if pointID == "" {
		pointID = uuid.New().String()
	}
	if snapshot.Speed <= 0 {
		return nil, fmt.Errorf("initial transport speed must be positive, got %f", snapshot.Speed)
	}
	if snapshot.TransportMs < 0 {
		return nil, fmt.Errorf("initial transport position must be non-negative, got %d", snapshot.TransportMs)
	}
	for i, d := range snapshot.Drawings {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("pre-existing drawing %d: %w", i, err)
		}
	}

	s := &RecorderSession{
		PointID: pointID,
		now:     time.Now,
	}
	s.StartedAt = s.now()
	s.events = append(s.events, NewStartEvent(pointID, snapshot))

	log.Printf("🎙️ Recorder session started: %s (speed: %.2fx, transport: %dms, drawings: %d)",
		pointID, snapshot.Speed, snapshot.TransportMs, len(snapshot.Drawings))

	return s, nil
}

// elapsedMs миллисекунды с начала сессии (монотонные часы)
func (s *RecorderSession) elapsedMs() int64 {
	ms := s.now().Sub(s.StartedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms
}

func (s *RecorderSession) append(ev RecordingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("session %s is stopped", s.PointID)
	}

	// Монотонность: elapsed не убывает, но защищаемся от скачков назад
	if n := len(s.events); n > 0 && ev.TimestampMs < s.events[n-1].TimestampMs {
		ev.TimestampMs = s.events[n-1].TimestampMs
	}

	s.events = append(s.events, ev)
	return nil
}

// RecordDraw добавляет завершённую аннотацию в лог
func (s *RecorderSession) RecordDraw(d Drawing) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid drawing: %w", err)
	}
	return s.append(NewDrawEvent(s.PointID, s.elapsedMs(), d))
}

// RecordSpeedChange фиксирует новую абсолютную скорость транспорта
func (s *RecorderSession) RecordSpeedChange(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be positive, got %f", speed)
	}
	return s.append(NewSpeedEvent(s.PointID, s.elapsedMs(), speed))
}

// RecordSeek фиксирует новую абсолютную позицию транспорта
func (s *RecorderSession) RecordSeek(transportMs int64) error {
	if transportMs < 0 {
		return fmt.Errorf("transport position must be non-negative, got %d", transportMs)
	}
	return s.append(NewSeekEvent(s.PointID, s.elapsedMs(), transportMs))
}

// EventCount количество событий в логе (включая recording-start)
func (s *RecorderSession) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Stop замораживает лог и собирает durable агрегат.
//
// Длина аудио авторитетна для длительности. Если аудио недоступно
// (audioDurationMs <= 0) — degraded режим: длительность берётся из
// wall-clock, запись помечается AudioMissing для предупреждения viewer.
func (s *RecorderSession) Stop(audioPath string, audioDurationMs int64) (CoachingPointRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return CoachingPointRecording{}, fmt.Errorf("session %s already stopped", s.PointID)
	}
	s.stopped = true

	rec := CoachingPointRecording{
		PointID: s.PointID,
	}

	if audioDurationMs > 0 && audioPath != "" {
		rec.AudioPath = audioPath
		rec.DurationMs = audioDurationMs
	} else {
		// Degraded: без аудио артефакта, длительность по wall-clock
		rec.AudioMissing = true
		rec.DurationMs = s.now().Sub(s.StartedAt).Milliseconds()
		log.Printf("⚠️ Session %s stopped without audio, duration from wall clock: %dms",
			s.PointID, rec.DurationMs)
	}

	// Инвариант: timestamp ≤ duration. События после конца аудио
	// прижимаются к границе (хвост захвата после остановки микрофона).
	events := make([]RecordingEvent, len(s.events))
	copy(events, s.events)
	clamped := 0
	for i := range events {
		if events[i].TimestampMs > rec.DurationMs {
			events[i].TimestampMs = rec.DurationMs
			clamped++
		}
	}
	if clamped > 0 {
		log.Printf("⚠️ Session %s: clamped %d trailing event timestamps to duration %dms",
			s.PointID, clamped, rec.DurationMs)
	}
	rec.Events = events

	log.Printf("🎙️ Recorder session stopped: %s (%d events, %dms, audio_missing: %v)",
		s.PointID, len(rec.Events), rec.DurationMs, rec.AudioMissing)

	return rec, nil
}
