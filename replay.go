package main

import (
	"log"
	"sort"
)

// PlaybackState эфемерное состояние воспроизведения в момент времени T.
// Чистая функция от (лог, T) — никакого скрытого контекста.
type PlaybackState struct {
	CurrentTimeMs       int64     `json:"current_time_ms"`
	IsPlaying           bool      `json:"is_playing"`
	ActiveDrawings      []Drawing `json:"active_drawings"`
	TransportSpeed      float64   `json:"transport_speed"`
	TransportPositionMs int64     `json:"transport_position_ms"`
}

// decodedEvent валидное событие с уже распакованным payload
type decodedEvent struct {
	ts      int64
	payload interface{}
}

// Интервал чекпоинтов: seek реплеит от ближайшего снапшота,
// а не от recording-start. Чистый кеш — на результат не влияет.
const snapshotEvery = 50

type replaySnapshot struct {
	applied int // сколько событий применено в этом состоянии
	state   PlaybackState
}

// Replayer вычисляет PlaybackState для любого T по логу событий.
// Лог read-only: один Replayer на одну viewing-сессию.
type Replayer struct {
	durationMs int64
	start      StartPayload
	events     []decodedEvent // без recording-start, в порядке лога
	skipped    int
	snapshots  []replaySnapshot
}

// NewReplayer декодирует лог один раз. Битые события пропускаются и
// считаются (сигнал degraded replay), а не валят весь replay.
func NewReplayer(rec CoachingPointRecording) *Replayer {
	r := &Replayer{
		durationMs: rec.DurationMs,
		// Default если лог пустой или без recording-start
		start: StartPayload{Speed: 1.0},
	}

	// Длительность выводима из самого лога, если аудио-длины нет
	if r.durationMs <= 0 {
		r.durationMs = lastEventTimestamp(rec.Events)
	}

	for i, ev := range rec.Events {
		payload, err := ev.DecodePayload()
		if err != nil {
			r.skipped++
			log.Printf("⚠️ Replay: skipping event %d of %s: %v", i, rec.PointID, err)
			continue
		}

		if start, ok := payload.(StartPayload); ok {
			if i == 0 {
				r.start = start
				continue
			}
			// recording-start посреди лога — битый лог, пропускаем
			r.skipped++
			log.Printf("⚠️ Replay: skipping stray recording-start at index %d of %s", i, rec.PointID)
			continue
		}

		ts := ev.TimestampMs
		if ts < 0 {
			r.skipped++
			continue
		}
		r.events = append(r.events, decodedEvent{ts: ts, payload: payload})
	}

	// Лог может прийти из хранилища неотсортированным только при
	// повреждении; replay полагается на порядок, поэтому проверяем
	if !sort.SliceIsSorted(r.events, func(i, j int) bool {
		return r.events[i].ts < r.events[j].ts
	}) {
		sort.SliceStable(r.events, func(i, j int) bool {
			return r.events[i].ts < r.events[j].ts
		})
		log.Printf("⚠️ Replay: event log of %s was out of order, re-sorted", rec.PointID)
	}

	r.buildSnapshots()
	return r
}

// buildSnapshots один проход по логу, чекпоинт каждые snapshotEvery событий
func (r *Replayer) buildSnapshots() {
	if len(r.events) < snapshotEvery {
		return
	}

	state := r.baseState()
	for i, ev := range r.events {
		state = applyEvent(state, ev)
		if (i+1)%snapshotEvery == 0 {
			r.snapshots = append(r.snapshots, replaySnapshot{
				applied: i + 1,
				state:   cloneState(state),
			})
		}
	}
}

// Duration длительность записи в миллисекундах
func (r *Replayer) Duration() int64 {
	return r.durationMs
}

// SkippedEvents сколько битых событий было пропущено при декодировании
func (r *Replayer) SkippedEvents() int {
	return r.skipped
}

// clamp T<0 → 0, T>duration → duration
func (r *Replayer) clamp(t int64) int64 {
	if t < 0 {
		return 0
	}
	if r.durationMs > 0 && t > r.durationMs {
		return r.durationMs
	}
	return t
}

// baseState состояние из recording-start snapshot (T=0)
func (r *Replayer) baseState() PlaybackState {
	drawings := make([]Drawing, len(r.start.Drawings))
	copy(drawings, r.start.Drawings)

	return PlaybackState{
		CurrentTimeMs:       0,
		ActiveDrawings:      drawings,
		TransportSpeed:      r.start.Speed,
		TransportPositionMs: r.start.TransportMs,
	}
}

func cloneState(s PlaybackState) PlaybackState {
	out := s
	out.ActiveDrawings = make([]Drawing, len(s.ActiveDrawings))
	copy(out.ActiveDrawings, s.ActiveDrawings)
	return out
}

// applyEvent применяет одно событие. Drawings только накапливаются,
// транспортные значения — last write wins. Slice не шарится между
// состояниями: append всегда в свежую копию.
func applyEvent(state PlaybackState, ev decodedEvent) PlaybackState {
	switch p := ev.payload.(type) {
	case DrawPayload:
		drawings := make([]Drawing, len(state.ActiveDrawings), len(state.ActiveDrawings)+1)
		copy(drawings, state.ActiveDrawings)
		state.ActiveDrawings = append(drawings, p.Drawing)

	case SpeedPayload:
		state.TransportSpeed = p.Speed

	case SeekPayload:
		state.TransportPositionMs = p.TransportMs
	}

	return state
}

// prefixLen количество событий с ts ≤ t
func (r *Replayer) prefixLen(t int64) int {
	return sort.Search(len(r.events), func(i int) bool {
		return r.events[i].ts > t
	})
}

// Seek произвольный прыжок к T (вперёд или назад): сброс к
// recording-start snapshot и replay всего префикса ts ≤ T. Drawings
// append-only, транспортные события абсолютны — полный префикс всегда
// корректен, обратной операции не нужно. Снапшоты сокращают префикс.
func (r *Replayer) Seek(t int64) PlaybackState {
	t = r.clamp(t)
	n := r.prefixLen(t)

	state := r.baseState()
	from := 0

	// Ближайший чекпоинт, целиком лежащий в префиксе
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if r.snapshots[i].applied <= n {
			state = cloneState(r.snapshots[i].state)
			from = r.snapshots[i].applied
			break
		}
	}

	for _, ev := range r.events[from:n] {
		state = applyEvent(state, ev)
	}

	state.CurrentTimeMs = t
	return state
}

// Step шаг вперёд от известного состояния: применяются только события
// в окне (prevT, newT]. O(событий в окне), не O(всего лога).
// Шаг назад корректности не ломает — уходим в полный Seek.
func (r *Replayer) Step(prev PlaybackState, newT int64) PlaybackState {
	newT = r.clamp(newT)

	if newT < prev.CurrentTimeMs {
		state := r.Seek(newT)
		state.IsPlaying = prev.IsPlaying
		return state
	}

	lo := r.prefixLen(prev.CurrentTimeMs)
	hi := r.prefixLen(newT)

	state := cloneState(prev)
	for _, ev := range r.events[lo:hi] {
		state = applyEvent(state, ev)
	}

	state.CurrentTimeMs = newT
	return state
}
