package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// PlayerStatus состояние FSM контроллера воспроизведения
type PlayerStatus string

const (
	StatusIdle    PlayerStatus = "idle"
	StatusLoading PlayerStatus = "loading"
	StatusReady   PlayerStatus = "ready"
	StatusPlaying PlayerStatus = "playing"
	StatusPaused  PlayerStatus = "paused"
	StatusEnded   PlayerStatus = "ended"
	StatusError   PlayerStatus = "error"
)

// AudioClock часы аудио элемента. Позиция аудио авторитетна:
// контроллер никогда не интегрирует wall-clock дельты, иначе
// наррация и визуал разъезжаются на длинных записях.
type AudioClock interface {
	PositionMs() int64
	SetPositionMs(int64)
	Start()
	Pause()
}

// AudioSource загружает и декодирует аудио артефакт по его ссылке
type AudioSource interface {
	Fetch(ctx context.Context, audioPath string) (AudioClock, error)
}

// ManualClock часы, которые двигает сам потребитель. Используются в
// degraded drawings-only режиме (аудио нет) и в тестах.
type ManualClock struct {
	mu  sync.Mutex
	pos int64
}

func (c *ManualClock) PositionMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *ManualClock) SetPositionMs(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = ms
}

func (c *ManualClock) Start() {}
func (c *ManualClock) Pause() {}

// defaultTickInterval период опроса аудио часов при воспроизведении
const defaultTickInterval = 33 * time.Millisecond

// Player конечный автомат поверх Replayer:
// Idle → Loading → Ready ⇄ Playing ⇄ Paused, из любого — Ended/Error.
// Ровно один Player владеет записью в рамках viewing-сессии.
type Player struct {
	rec    CoachingPointRecording
	source AudioSource

	TickInterval time.Duration

	mu       sync.Mutex
	status   PlayerStatus
	replayer *Replayer
	clock    AudioClock
	state    PlaybackState
	degraded bool
	lastErr  error
	closed   bool

	// gen инвалидирует незавершённые step-циклы и stale load:
	// новая команда суперсидит всё, что было запланировано до неё
	gen        int
	cancelLoad context.CancelFunc
}

// NewPlayer контроллер в состоянии Idle; Load запускает загрузку
func NewPlayer(rec CoachingPointRecording, source AudioSource) *Player {
	return &Player{
		rec:          rec,
		source:       source,
		status:       StatusIdle,
		TickInterval: defaultTickInterval,
	}
}

// Status текущее состояние FSM
func (p *Player) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// State копия текущего PlaybackState
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneState(p.state)
}

// Degraded true если воспроизведение идёт без наррации
// (drawings-only или запись была сделана без аудио)
func (p *Player) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Err последняя ошибка (в состоянии Error)
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Load переводит Idle → Loading, загружает аудио и лог.
// Отменяемо: stale resolve после Close/Stop не применит Ready.
func (p *Player) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("player is closed")
	}
	if p.status != StatusIdle {
		p.mu.Unlock()
		return fmt.Errorf("cannot load from %s state", p.status)
	}
	p.status = StatusLoading
	loadCtx, cancel := context.WithCancel(ctx)
	p.cancelLoad = cancel
	gen := p.gen
	p.mu.Unlock()

	replayer := NewReplayer(p.rec)
	if skipped := replayer.SkippedEvents(); skipped > 0 {
		log.Printf("⚠️ Player %s: degraded replay, %d malformed events skipped", p.rec.PointID, skipped)
	}

	var clock AudioClock
	var fetchErr error
	degraded := false

	if p.rec.AudioMissing || p.rec.AudioPath == "" {
		// Запись без наррации: двигать время будет сам потребитель
		clock = &ManualClock{}
		degraded = true
	} else {
		clock, fetchErr = p.source.Fetch(loadCtx, p.rec.AudioPath)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Stale resolve: Load отменили или суперсиднули пока грузились
	if p.closed || p.gen != gen || p.status != StatusLoading {
		return fmt.Errorf("load cancelled")
	}
	if err := loadCtx.Err(); err != nil {
		p.status = StatusIdle
		return fmt.Errorf("load cancelled: %w", err)
	}

	if fetchErr != nil {
		// Drawings-only fallback: длительность выводима из самого лога
		if last := lastEventTimestamp(p.rec.Events); last > 0 {
			log.Printf("⚠️ Player %s: audio fetch failed (%v), offering drawings-only playback", p.rec.PointID, fetchErr)
			clock = &ManualClock{}
			degraded = true
		} else {
			p.status = StatusError
			p.lastErr = fmt.Errorf("failed to load audio asset: %w", fetchErr)
			log.Printf("❌ Player %s: %v", p.rec.PointID, p.lastErr)
			return p.lastErr
		}
	}

	p.replayer = replayer
	p.clock = clock
	p.degraded = degraded || p.rec.AudioMissing
	p.state = replayer.Seek(0)
	p.status = StatusReady

	log.Printf("✅ Player %s ready (duration: %dms, degraded: %v)", p.rec.PointID, replayer.Duration(), p.degraded)
	return nil
}

func lastEventTimestamp(events []RecordingEvent) int64 {
	var last int64
	for _, ev := range events {
		if ev.TimestampMs > last {
			last = ev.TimestampMs
		}
	}
	return last
}

// Play переводит Ready/Paused → Playing. Из Ended — рестарт с нуля.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusReady, StatusPaused:
		// ok
	case StatusEnded:
		p.state = p.replayer.Seek(0)
		p.clock.SetPositionMs(0)
	default:
		return fmt.Errorf("cannot play from %s state", p.status)
	}

	p.status = StatusPlaying
	p.state.IsPlaying = true
	p.clock.Start()

	p.gen++
	go p.stepLoop(p.gen)

	return nil
}

// stepLoop тикает по часам аудио и двигает replay вперёд.
// Живёт максимум один цикл: gen проверяется под локом на каждом тике.
func (p *Player) stepLoop(gen int) {
	ticker := time.NewTicker(p.TickInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()

		if p.closed || p.gen != gen || p.status != StatusPlaying {
			p.mu.Unlock()
			return
		}

		t := p.clock.PositionMs()
		p.state = p.replayer.Step(p.state, t)
		p.state.IsPlaying = true

		if p.state.CurrentTimeMs >= p.replayer.Duration() {
			p.finishLocked()
			p.mu.Unlock()
			return
		}

		p.mu.Unlock()
	}
}

// finishLocked терминальный переход → Ended (вызывается под локом)
func (p *Player) finishLocked() {
	p.status = StatusEnded
	p.state.IsPlaying = false
	p.clock.Pause()
	p.gen++
	log.Printf("🏁 Player %s ended at %dms", p.rec.PointID, p.state.CurrentTimeMs)
}

// Pause переводит Playing → Paused и замораживает часы
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusPlaying {
		return fmt.Errorf("cannot pause from %s state", p.status)
	}

	p.status = StatusPaused
	p.state.IsPlaying = false
	p.clock.Pause()
	p.gen++ // остановить step loop

	return nil
}

// Seek произвольный прыжок из любого загруженного состояния.
// Суперсидит незавершённый step-цикл: два подряд seek не гонятся,
// побеждает последний. Если играли — продолжаем играть с новой позиции.
func (p *Player) Seek(t int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusReady, StatusPlaying, StatusPaused, StatusEnded:
		// ok
	default:
		return fmt.Errorf("cannot seek from %s state", p.status)
	}

	wasPlaying := p.status == StatusPlaying

	p.gen++ // отменить текущий step loop до пересчёта состояния
	p.state = p.replayer.Seek(t)
	p.clock.SetPositionMs(p.state.CurrentTimeMs)

	if p.state.CurrentTimeMs >= p.replayer.Duration() && p.replayer.Duration() > 0 {
		p.finishLocked()
		return nil
	}

	if wasPlaying {
		p.status = StatusPlaying
		p.state.IsPlaying = true
		go p.stepLoop(p.gen)
	} else if p.status == StatusEnded {
		p.status = StatusPaused
	}

	return nil
}

// Stop: во время Loading отменяет загрузку (stale resolve не пройдёт),
// из загруженных состояний — тот же терминальный переход что и
// естественный конец записи.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusLoading:
		p.gen++
		if p.cancelLoad != nil {
			p.cancelLoad()
		}
		p.status = StatusIdle
		return nil

	case StatusReady, StatusPlaying, StatusPaused:
		p.state = p.replayer.Seek(p.replayer.Duration())
		p.finishLocked()
		return nil

	case StatusEnded:
		return nil

	default:
		return fmt.Errorf("cannot stop from %s state", p.status)
	}
}

// Close освобождает контроллер; все дальнейшие вызовы — ошибка
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.gen++
	if p.cancelLoad != nil {
		p.cancelLoad()
	}
	if p.clock != nil {
		p.clock.Pause()
	}
}
