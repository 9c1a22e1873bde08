package main

import (
	"testing"
	"time"
)

// testClock двигает время сессии вручную
func testClock(s *RecorderSession) func(ms int64) {
	var offset time.Duration
	s.now = func() time.Time {
		return s.StartedAt.Add(offset)
	}
	return func(ms int64) {
		offset = time.Duration(ms) * time.Millisecond
	}
}

func TestRecorderSessionLog(t *testing.T) {
	session, err := NewRecorderSession("", StartPayload{Speed: 1.0, TransportMs: 30000})
	if err != nil {
		t.Fatalf("NewRecorderSession failed: %v", err)
	}
	if session.PointID == "" {
		t.Fatal("expected generated point id")
	}

	advance := testClock(session)

	advance(200)
	if err := session.RecordDraw(mustStroke(t, 0.1)); err != nil {
		t.Fatalf("RecordDraw failed: %v", err)
	}

	advance(400)
	if err := session.RecordSpeedChange(2.0); err != nil {
		t.Fatalf("RecordSpeedChange failed: %v", err)
	}

	advance(900)
	if err := session.RecordSeek(45000); err != nil {
		t.Fatalf("RecordSeek failed: %v", err)
	}

	advance(1000)
	rec, err := session.Stop("narration.webm", 1200)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Длина аудио авторитетна, не последний event timestamp
	if rec.DurationMs != 1200 {
		t.Errorf("expected duration 1200 (audio length), got %d", rec.DurationMs)
	}
	if rec.AudioMissing {
		t.Error("audio recording flagged as missing")
	}

	if len(rec.Events) != 4 {
		t.Fatalf("expected 4 events (start + 3 actions), got %d", len(rec.Events))
	}
	if rec.Events[0].Type != EventRecordingStart || rec.Events[0].TimestampMs != 0 {
		t.Errorf("first event must be recording-start at T=0: %+v", rec.Events[0])
	}

	want := []int64{0, 200, 400, 900}
	for i, ev := range rec.Events {
		if ev.TimestampMs != want[i] {
			t.Errorf("event %d: expected timestamp %d, got %d", i, want[i], ev.TimestampMs)
		}
	}

	if err := ValidateEventLog(rec.Events, rec.DurationMs); err != nil {
		t.Errorf("recorded log failed validation: %v", err)
	}
}

func TestRecorderRejectsInvalidActions(t *testing.T) {
	session, err := NewRecorderSession("p1", StartPayload{Speed: 1.0})
	if err != nil {
		t.Fatalf("NewRecorderSession failed: %v", err)
	}

	if err := session.RecordSpeedChange(0); err == nil {
		t.Error("zero speed accepted")
	}
	if err := session.RecordSeek(-1); err == nil {
		t.Error("negative transport position accepted")
	}
	if err := session.RecordDraw(Drawing{Type: "nope"}); err == nil {
		t.Error("invalid drawing accepted")
	}

	if session.EventCount() != 1 {
		t.Errorf("rejected actions must not reach the log, got %d events", session.EventCount())
	}
}

func TestRecorderStartValidation(t *testing.T) {
	if _, err := NewRecorderSession("p", StartPayload{Speed: 0}); err == nil {
		t.Error("non-positive initial speed accepted")
	}
	if _, err := NewRecorderSession("p", StartPayload{Speed: 1.0, TransportMs: -5}); err == nil {
		t.Error("negative initial transport accepted")
	}
}

// Degraded режим: аудио нет, длительность по wall-clock
func TestRecorderDegradedStop(t *testing.T) {
	session, err := NewRecorderSession("degraded", StartPayload{Speed: 1.0})
	if err != nil {
		t.Fatalf("NewRecorderSession failed: %v", err)
	}
	advance := testClock(session)

	advance(300)
	if err := session.RecordDraw(mustStroke(t, 0.5)); err != nil {
		t.Fatalf("RecordDraw failed: %v", err)
	}

	advance(750)
	rec, err := session.Stop("", 0)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !rec.AudioMissing {
		t.Error("degraded recording must be flagged audio_missing")
	}
	if rec.DurationMs != 750 {
		t.Errorf("expected wall-clock duration 750, got %d", rec.DurationMs)
	}
}

func TestRecorderStoppedSessionIsFrozen(t *testing.T) {
	session, err := NewRecorderSession("frozen", StartPayload{Speed: 1.0})
	if err != nil {
		t.Fatalf("NewRecorderSession failed: %v", err)
	}

	if _, err := session.Stop("", 0); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := session.RecordSpeedChange(2.0); err == nil {
		t.Error("append after stop accepted")
	}
	if _, err := session.Stop("", 0); err == nil {
		t.Error("double stop accepted")
	}
}

// События после конца аудио прижимаются к границе длительности
func TestRecorderClampsTrailingEvents(t *testing.T) {
	session, err := NewRecorderSession("trailing", StartPayload{Speed: 1.0})
	if err != nil {
		t.Fatalf("NewRecorderSession failed: %v", err)
	}
	advance := testClock(session)

	advance(500)
	if err := session.RecordSpeedChange(2.0); err != nil {
		t.Fatalf("RecordSpeedChange failed: %v", err)
	}

	// Аудио закончилось раньше последнего события
	rec, err := session.Stop("narration.webm", 400)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := ValidateEventLog(rec.Events, rec.DurationMs); err != nil {
		t.Errorf("clamped log failed validation: %v", err)
	}
	if last := rec.Events[len(rec.Events)-1].TimestampMs; last != 400 {
		t.Errorf("expected trailing event clamped to 400, got %d", last)
	}
}
