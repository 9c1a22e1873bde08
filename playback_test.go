package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAudioSource struct {
	clock AudioClock
	err   error
	delay time.Duration
}

func (f *fakeAudioSource) Fetch(ctx context.Context, audioPath string) (AudioClock, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.clock, nil
}

// waitFor опрашивает условие, пока step loop его не выполнит
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestPlayer(t *testing.T, rec CoachingPointRecording, src AudioSource) *Player {
	t.Helper()
	p := NewPlayer(rec, src)
	p.TickInterval = time.Millisecond
	t.Cleanup(p.Close)
	return p
}

func audioRecording(t *testing.T) CoachingPointRecording {
	t.Helper()
	rec := scenarioRecording(t)
	rec.AudioPath = "points/test-point/narration.webm"
	return rec
}

func TestPlayerLifecycle(t *testing.T) {
	clock := &ManualClock{}
	p := newTestPlayer(t, audioRecording(t), &fakeAudioSource{clock: clock})

	if p.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", p.Status())
	}

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Status() != StatusReady {
		t.Fatalf("expected ready, got %s", p.Status())
	}
	if p.Degraded() {
		t.Error("audio playback flagged degraded")
	}

	// Ready: ровно recording-start snapshot
	if s := p.State(); s.CurrentTimeMs != 0 || len(s.ActiveDrawings) != 0 || s.TransportSpeed != 1.0 {
		t.Errorf("ready state is not the start snapshot: %+v", s)
	}

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	// Время двигают только часы аудио
	clock.SetPositionMs(600)
	waitFor(t, "step to 600ms", func() bool {
		s := p.State()
		return s.CurrentTimeMs >= 600
	})

	s := p.State()
	if s.TransportSpeed != 2.0 || len(s.ActiveDrawings) != 1 {
		t.Errorf("state at 600ms wrong: %+v", s)
	}
	if !s.IsPlaying {
		t.Error("expected IsPlaying while playing")
	}

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if p.Status() != StatusPaused {
		t.Fatalf("expected paused, got %s", p.Status())
	}
	if p.State().IsPlaying {
		t.Error("paused state still flagged playing")
	}

	// Пока на паузе, тики часов состояние не двигают
	clock.SetPositionMs(950)
	time.Sleep(20 * time.Millisecond)
	if got := p.State().CurrentTimeMs; got >= 950 {
		t.Errorf("paused player advanced to %d", got)
	}

	if err := p.Play(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	waitFor(t, "resume to 950ms", func() bool {
		return p.State().CurrentTimeMs >= 950
	})
	if got := len(p.State().ActiveDrawings); got != 2 {
		t.Errorf("expected both drawings at 950ms, got %d", got)
	}

	// Конец записи → Ended
	clock.SetPositionMs(1000)
	waitFor(t, "ended", func() bool {
		return p.Status() == StatusEnded
	})

	// Play после конца — рестарт с нуля
	if err := p.Play(); err != nil {
		t.Fatalf("replay after end failed: %v", err)
	}
	if p.Status() != StatusPlaying {
		t.Fatalf("expected playing after restart, got %s", p.Status())
	}
	if clock.PositionMs() != 0 {
		t.Errorf("restart must rewind the audio clock, position %d", clock.PositionMs())
	}
}

func TestPlayerSeek(t *testing.T) {
	clock := &ManualClock{}
	p := newTestPlayer(t, audioRecording(t), &fakeAudioSource{clock: clock})

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Seek из Ready: состояние пересчитано, статус не меняется
	if err := p.Seek(600); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if p.Status() != StatusReady {
		t.Errorf("seek from ready should stay ready, got %s", p.Status())
	}
	if s := p.State(); s.CurrentTimeMs != 600 || s.TransportSpeed != 2.0 {
		t.Errorf("seek state wrong: %+v", s)
	}
	if clock.PositionMs() != 600 {
		t.Errorf("seek must move the audio clock, position %d", clock.PositionMs())
	}

	// Второй seek сразу за первым: побеждает последний
	if err := p.Seek(950); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if err := p.Seek(100); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if s := p.State(); s.CurrentTimeMs != 100 || len(s.ActiveDrawings) != 0 || s.TransportSpeed != 1.0 {
		t.Errorf("superseding seek state wrong: %+v", s)
	}

	// Seek за длительность — терминальный переход
	if err := p.Seek(99999); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if p.Status() != StatusEnded {
		t.Errorf("seek beyond duration should end playback, got %s", p.Status())
	}
}

func TestPlayerIllegalTransitions(t *testing.T) {
	p := newTestPlayer(t, audioRecording(t), &fakeAudioSource{clock: &ManualClock{}})

	if err := p.Play(); err == nil {
		t.Error("Play from idle accepted")
	}
	if err := p.Seek(100); err == nil {
		t.Error("Seek from idle accepted")
	}
	if err := p.Pause(); err == nil {
		t.Error("Pause from idle accepted")
	}

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := p.Pause(); err == nil {
		t.Error("Pause from ready accepted")
	}
	if err := p.Load(context.Background()); err == nil {
		t.Error("second Load accepted")
	}
}

func TestPlayerStopCancelsLoading(t *testing.T) {
	src := &fakeAudioSource{clock: &ManualClock{}, delay: 5 * time.Second}
	p := newTestPlayer(t, audioRecording(t), src)

	loadErr := make(chan error, 1)
	go func() {
		loadErr <- p.Load(context.Background())
	}()

	waitFor(t, "loading state", func() bool {
		return p.Status() == StatusLoading
	})

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop while loading failed: %v", err)
	}
	if p.Status() != StatusIdle {
		t.Errorf("cancelled load should return to idle, got %s", p.Status())
	}

	// Stale resolve не должен применить Ready
	if err := <-loadErr; err == nil {
		t.Error("cancelled Load returned success")
	}
	if p.Status() != StatusIdle {
		t.Errorf("stale resolve mutated the player, status %s", p.Status())
	}
}

func TestPlayerAudioFailureFallsBackToDrawingsOnly(t *testing.T) {
	src := &fakeAudioSource{err: errors.New("asset unreachable")}
	p := newTestPlayer(t, audioRecording(t), src)

	// Лог сам задаёт длительность — drawings-only replay возможен
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("expected degraded ready, got error: %v", err)
	}
	if p.Status() != StatusReady {
		t.Fatalf("expected ready, got %s", p.Status())
	}
	if !p.Degraded() {
		t.Error("drawings-only playback must be flagged degraded")
	}
}

func TestPlayerAudioFailureWithoutLogIsError(t *testing.T) {
	rec := CoachingPointRecording{
		PointID:    "no-log",
		AudioPath:  "points/no-log/narration.webm",
		DurationMs: 1000,
	}
	src := &fakeAudioSource{err: errors.New("asset unreachable")}
	p := newTestPlayer(t, rec, src)

	if err := p.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if p.Status() != StatusError {
		t.Errorf("expected error state, got %s", p.Status())
	}
	if p.Err() == nil {
		t.Error("expected user-visible error")
	}
}

func TestPlayerAudioMissingRecording(t *testing.T) {
	rec := scenarioRecording(t)
	rec.AudioMissing = true

	// Source не должен вызываться вовсе
	p := newTestPlayer(t, rec, &fakeAudioSource{err: errors.New("must not fetch")})

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !p.Degraded() {
		t.Error("audio-less recording must be flagged degraded at playback")
	}
	if p.Status() != StatusReady {
		t.Errorf("expected ready, got %s", p.Status())
	}
}

func TestPlayerStopIsTerminal(t *testing.T) {
	clock := &ManualClock{}
	p := newTestPlayer(t, audioRecording(t), &fakeAudioSource{clock: clock})

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.Status() != StatusEnded {
		t.Errorf("stop and natural end are the same transition, got %s", p.Status())
	}
	if got := p.State().CurrentTimeMs; got != 1000 {
		t.Errorf("stopped state should sit at duration, got %d", got)
	}
}
