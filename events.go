package main

import (
	"encoding/json"
	"fmt"
)

// EventType тип события в логе записи. Закрытый набор —
// decode делает исчерпывающий switch по нему.
type EventType string

const (
	EventRecordingStart EventType = "recording-start"
	EventDraw           EventType = "draw"
	EventSpeedChange    EventType = "speed-change"
	EventSeek           EventType = "seek"
)

// RecordingEvent одно событие лога: immutable факт с таймстампом
// относительно начала наррации
type RecordingEvent struct {
	ID          int64           `json:"id,omitempty"`
	PointID     string          `json:"point_id"`
	Type        EventType       `json:"event_type"`
	TimestampMs int64           `json:"timestamp_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// StartPayload снимок состояния до первого события: replay никогда
// не требует контекста вне лога
type StartPayload struct {
	Speed       float64   `json:"speed"`
	TransportMs int64     `json:"transport_ms"`
	Drawings    []Drawing `json:"drawings"`
}

// DrawPayload одна завершённая аннотация (декларация, не diff)
type DrawPayload struct {
	Drawing Drawing `json:"drawing"`
}

// SpeedPayload абсолютное значение скорости транспорта
type SpeedPayload struct {
	Speed float64 `json:"speed"`
}

// SeekPayload абсолютная позиция транспорта
type SeekPayload struct {
	TransportMs int64 `json:"transport_ms"`
}

// PayloadError событие с неизвестным типом или битым payload.
// Replay такие пропускает и считает, persist отклоняет сразу.
type PayloadError struct {
	Type   EventType
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed %q payload: %s", e.Type, e.Reason)
}

// DecodePayload распаковывает payload в типизированную структуру
// по event_type. Возвращает *PayloadError для неизвестных типов.
func (ev RecordingEvent) DecodePayload() (interface{}, error) {
	switch ev.Type {
	case EventRecordingStart:
		var p StartPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, &PayloadError{Type: ev.Type, Reason: err.Error()}
		}
		if p.Speed <= 0 {
			return nil, &PayloadError{Type: ev.Type, Reason: "speed must be positive"}
		}
		for i, d := range p.Drawings {
			if err := d.Validate(); err != nil {
				return nil, &PayloadError{Type: ev.Type, Reason: fmt.Sprintf("drawing %d: %v", i, err)}
			}
		}
		return p, nil

	case EventDraw:
		var p DrawPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, &PayloadError{Type: ev.Type, Reason: err.Error()}
		}
		if err := p.Drawing.Validate(); err != nil {
			return nil, &PayloadError{Type: ev.Type, Reason: err.Error()}
		}
		return p, nil

	case EventSpeedChange:
		var p SpeedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, &PayloadError{Type: ev.Type, Reason: err.Error()}
		}
		if p.Speed <= 0 {
			return nil, &PayloadError{Type: ev.Type, Reason: "speed must be positive"}
		}
		return p, nil

	case EventSeek:
		var p SeekPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, &PayloadError{Type: ev.Type, Reason: err.Error()}
		}
		if p.TransportMs < 0 {
			return nil, &PayloadError{Type: ev.Type, Reason: "transport_ms must be non-negative"}
		}
		return p, nil

	default:
		return nil, &PayloadError{Type: ev.Type, Reason: "unknown event type"}
	}
}

// mustMarshal сериализует payload, который мы сами же и построили
func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Наши payload типы всегда сериализуемы
		panic(fmt.Sprintf("payload marshal: %v", err))
	}
	return raw
}

// NewStartEvent событие recording-start (всегда index 0, T=0)
func NewStartEvent(pointID string, snapshot StartPayload) RecordingEvent {
	return RecordingEvent{
		PointID:     pointID,
		Type:        EventRecordingStart,
		TimestampMs: 0,
		Payload:     mustMarshal(snapshot),
	}
}

// NewDrawEvent событие добавления аннотации
func NewDrawEvent(pointID string, timestampMs int64, d Drawing) RecordingEvent {
	return RecordingEvent{
		PointID:     pointID,
		Type:        EventDraw,
		TimestampMs: timestampMs,
		Payload:     mustMarshal(DrawPayload{Drawing: d}),
	}
}

// NewSpeedEvent событие смены скорости транспорта
func NewSpeedEvent(pointID string, timestampMs int64, speed float64) RecordingEvent {
	return RecordingEvent{
		PointID:     pointID,
		Type:        EventSpeedChange,
		TimestampMs: timestampMs,
		Payload:     mustMarshal(SpeedPayload{Speed: speed}),
	}
}

// NewSeekEvent событие перемотки транспорта
func NewSeekEvent(pointID string, timestampMs int64, transportMs int64) RecordingEvent {
	return RecordingEvent{
		PointID:     pointID,
		Type:        EventSeek,
		TimestampMs: timestampMs,
		Payload:     mustMarshal(SeekPayload{TransportMs: transportMs}),
	}
}

// ValidateEventLog проверяет инвариант лога: timestamps неотрицательные и
// неубывающие, recording-start только на нулевой позиции, всё ≤ duration
func ValidateEventLog(events []RecordingEvent, durationMs int64) error {
	if len(events) == 0 {
		// Пустой лог валиден: тихая наррация без аннотаций
		return nil
	}

	prev := int64(0)
	for i, ev := range events {
		if ev.Type == EventRecordingStart && i != 0 {
			return fmt.Errorf("event %d: recording-start must be the first event", i)
		}
		if i == 0 && ev.Type == EventRecordingStart && ev.TimestampMs != 0 {
			return fmt.Errorf("recording-start must have timestamp 0, got %d", ev.TimestampMs)
		}
		if ev.TimestampMs < 0 {
			return fmt.Errorf("event %d: negative timestamp %d", i, ev.TimestampMs)
		}
		if ev.TimestampMs < prev {
			return fmt.Errorf("event %d: timestamp %d before previous %d", i, ev.TimestampMs, prev)
		}
		if durationMs > 0 && ev.TimestampMs > durationMs {
			return fmt.Errorf("event %d: timestamp %d exceeds duration %d", i, ev.TimestampMs, durationMs)
		}
		prev = ev.TimestampMs
	}

	return nil
}
