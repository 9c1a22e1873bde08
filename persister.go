package main

import (
	"fmt"
	"log"
	"time"
)

// pointStore часть DatabaseManager, нужная персистеру
type pointStore interface {
	CreateCoachingPoint(point CoachingPoint) error
	UpdatePointComplete(point CoachingPoint) error
	UpdatePointStatus(pointID, status string) error
	InsertEventBatch(pointID string, events []RecordingEvent) ([]RecordingEvent, error)
	TagViewers(pointID string, viewerIDs []int) error
	AddLabels(pointID string, labels []string) error
}

// audioStore часть StorageManager, нужная персистеру
type audioStore interface {
	UploadAudio(pointID, localPath string) (string, error)
	RemoveLocalFile(path string)
}

const audioUploadAttempts = 3

// Persister сохраняет завершённую сессию наррации durable.
//
// Политика: primary запись атомарна (её ошибка фатальна), всё
// остальное — best-effort: аудио, batch событий, viewers/labels
// падают независимо и не откатывают существование coaching point.
// strict=true (PERSIST_STRICT) делает batch событий транзакционным:
// без событий запись помечается failed.
type Persister struct {
	db      pointStore
	storage audioStore
	strict  bool

	// sleep подменяется в тестах
	sleep func(time.Duration)
}

func NewPersister(db pointStore, storage audioStore, strict bool) *Persister {
	return &Persister{
		db:      db,
		storage: storage,
		strict:  strict,
		sleep:   time.Sleep,
	}
}

// Persist обрабатывает одну задачу. Возвращаемая ошибка означает что
// primary запись не создана (или strict-режим отклонил задачу);
// secondary failures живут в PersistResult.Warnings.
func (p *Persister) Persist(task PersistTask) (PersistResult, error) {
	result := PersistResult{PointID: task.PointID}

	if task.PointID == "" {
		return result, fmt.Errorf("point_id is required")
	}

	// Упорядочивание — ответственность рекордера, но битый лог
	// не должен дойти до хранилища
	if err := ValidateEventLog(task.Events, task.DurationMs); err != nil {
		return result, fmt.Errorf("invalid event log for %s: %w", task.PointID, err)
	}

	for i, ev := range task.Events {
		if _, err := ev.DecodePayload(); err != nil {
			// Байты сохраняем как есть, replay пропустит — но автору
			// об усечённой записи нужно знать
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %d has malformed payload: %v", i, err))
		}
	}

	now := time.Now()
	point := CoachingPoint{
		PointID:      task.PointID,
		Title:        task.Title,
		DurationMs:   task.DurationMs,
		AudioMissing: task.AudioMissing,
		Status:       "processing",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if task.AuthorID != 0 {
		point.AuthorID = &task.AuthorID
	}
	if task.AuthorName != "" {
		point.AuthorName = &task.AuthorName
	}

	// 1. Primary запись — единственный фатальный шаг
	if err := p.db.CreateCoachingPoint(point); err != nil {
		log.Printf("❌ Failed to create coaching point %s: %v", task.PointID, err)
		return result, err
	}

	// 2. Аудио артефакт: best-effort с retry как у MinIO скачивания
	audioPath := ""
	audioMissing := task.AudioMissing
	if !task.AudioMissing && task.AudioPath != "" {
		audioPath, audioMissing = p.uploadAudioWithRetry(task, &result)
	}
	defer p.storage.RemoveLocalFile(task.AudioPath)

	// 3. Batch событий: all-or-nothing на границе batch-вызова
	eventsSaved := false
	if len(task.Events) > 0 {
		if _, err := p.db.InsertEventBatch(task.PointID, task.Events); err != nil {
			log.Printf("⚠️ Event batch failed for %s: %v", task.PointID, err)
			result.Warnings = append(result.Warnings,
				"point created, but no annotation/narration events were saved: "+err.Error())

			if p.strict {
				// Транзакционный режим: без событий запись невалидна
				if stErr := p.db.UpdatePointStatus(task.PointID, "failed"); stErr != nil {
					log.Printf("❌ Could not mark %s failed: %v", task.PointID, stErr)
				}
				return result, fmt.Errorf("strict persistence: event batch failed: %w", err)
			}
		} else {
			eventsSaved = true
		}
	} else {
		// Пустой лог валиден: тихая наррация без аннотаций
		eventsSaved = true
	}
	result.EventsSaved = eventsSaved

	// 4. Метаданные: каждая привязка падает независимо
	if err := p.db.TagViewers(task.PointID, task.TaggedViewers); err != nil {
		log.Printf("⚠️ Failed to tag viewers for %s: %v", task.PointID, err)
		result.Warnings = append(result.Warnings, "viewer tags were not saved: "+err.Error())
	} else {
		result.ViewersTagged = true
	}

	if err := p.db.AddLabels(task.PointID, task.Labels); err != nil {
		log.Printf("⚠️ Failed to add labels for %s: %v", task.PointID, err)
		result.Warnings = append(result.Warnings, "category labels were not saved: "+err.Error())
	} else {
		result.LabelsSaved = true
	}

	// 5. Финальное обновление
	point.AudioMissing = audioMissing
	point.EventsSaved = eventsSaved
	point.Status = "ready"
	if audioPath != "" {
		point.AudioPath = &audioPath
	}

	if err := p.db.UpdatePointComplete(point); err != nil {
		// Запись уже существует и события в БД — не откатываем
		log.Printf("❌ Final update failed for %s: %v", task.PointID, err)
		result.Warnings = append(result.Warnings, "final status update failed: "+err.Error())
	}

	log.Printf("✅ Persisted coaching point %s (audio: %v, events: %v, warnings: %d)",
		task.PointID, result.AudioUploaded, result.EventsSaved, len(result.Warnings))

	return result, nil
}

// uploadAudioWithRetry до трёх попыток с нарастающей паузой.
// Полный провал не абортит создание: запись идёт audio-less,
// viewer увидит флаг audio_missing.
func (p *Persister) uploadAudioWithRetry(task PersistTask, result *PersistResult) (string, bool) {
	var lastErr error

	for attempt := 1; attempt <= audioUploadAttempts; attempt++ {
		log.Printf("📥 Attempt %d/%d: uploading narration audio for %s",
			attempt, audioUploadAttempts, task.PointID)

		audioPath, err := p.storage.UploadAudio(task.PointID, task.AudioPath)
		if err == nil {
			result.AudioUploaded = true
			result.AudioURL = audioPath
			return audioPath, false
		}

		lastErr = err
		if attempt < audioUploadAttempts {
			waitTime := time.Duration(attempt*2) * time.Second
			log.Printf("⚠️ Attempt %d failed: %v. Retrying in %v...", attempt, err, waitTime)
			p.sleep(waitTime)
		}
	}

	log.Printf("⚠️ All audio upload attempts failed for %s: %v — proceeding audio-less", task.PointID, lastErr)
	result.Warnings = append(result.Warnings, "narration audio was not uploaded: "+lastErr.Error())
	return "", true
}
