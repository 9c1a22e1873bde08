package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DatabaseManager struct {
	pool *pgxpool.Pool
}

func NewDatabaseManager() (*DatabaseManager, error) {
	// Формирование строки подключения из ENV переменных
	dbURL := buildDatabaseURL()

	log.Printf("📊 Connecting to database...")

	// Автоматические миграции при старте
	if err := runMigrations(dbURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Настройки pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Тест подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connected successfully")
	return &DatabaseManager{pool: pool}, nil
}

// Автоматическое применение миграций
func runMigrations(dbURL string) error {
	log.Println("🔄 Running database migrations...")

	migrationsPath := "./migrations"
	if _, err := os.ReadDir(migrationsPath); err != nil {
		// Попробовать альтернативные пути (docker vs local)
		for _, altPath := range []string{"/app/migrations", "migrations"} {
			if _, altErr := os.ReadDir(altPath); altErr == nil {
				log.Printf("✅ Found migrations in alternative path: %s", altPath)
				migrationsPath = altPath
				err = nil
				break
			}
		}
		if err != nil {
			return fmt.Errorf("migrations directory not found: %w", err)
		}
	}

	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Println("📊 No new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Printf("⚠️ Could not get migration version: %v", err)
	} else {
		log.Printf("✅ Database migrations completed (version: %d, dirty: %v)", version, dirty)
	}

	return nil
}

func buildDatabaseURL() string {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL != "" {
		return dbURL
	}

	host := getEnv("DB_HOST", "postgres")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "example")
	dbname := getEnv("DB_NAME", "appdb")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, dbname)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// CreateCoachingPoint создаёт primary запись. Это единственная
// транзакционная часть создания: её ошибка фатальна для задачи.
func (dm *DatabaseManager) CreateCoachingPoint(point CoachingPoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
        INSERT INTO coaching_points (
            point_id, author_id, author_name, title, duration_ms,
            audio_path, audio_missing, events_saved, status, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := dm.pool.Exec(ctx, query,
		point.PointID,
		point.AuthorID,
		point.AuthorName,
		point.Title,
		point.DurationMs,
		point.AudioPath,
		point.AudioMissing,
		point.EventsSaved,
		point.Status,
		point.CreatedAt,
		point.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create coaching point: %w", err)
	}

	log.Printf("📊 DB: Created coaching point %s (title: %q, duration: %dms)",
		point.PointID, point.Title, point.DurationMs)

	return nil
}

// UpdatePointStatus обновляет статус записи (processing/ready/failed)
func (dm *DatabaseManager) UpdatePointStatus(pointID, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        UPDATE coaching_points
        SET status = $1, updated_at = NOW()
        WHERE point_id = $2`

	result, err := dm.pool.Exec(ctx, query, status, pointID)
	if err != nil {
		return fmt.Errorf("failed to update point status: %w", err)
	}

	log.Printf("📊 DB: Updated %s status to %s (rows affected: %d)",
		pointID, status, result.RowsAffected())

	return nil
}

// UpdatePointComplete финальное обновление после обработки задачи
func (dm *DatabaseManager) UpdatePointComplete(point CoachingPoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
        UPDATE coaching_points SET
            audio_path = $2,
            audio_missing = $3,
            events_saved = $4,
            status = $5,
            updated_at = NOW()
        WHERE point_id = $1`

	result, err := dm.pool.Exec(ctx, query,
		point.PointID,
		point.AudioPath,
		point.AudioMissing,
		point.EventsSaved,
		point.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to update point complete: %w", err)
	}

	log.Printf("📊 DB: Updated coaching point complete for %s (status: %s, rows affected: %d)",
		point.PointID, point.Status, result.RowsAffected())

	return nil
}

// InsertEventBatch пишет весь лог одним pgx.Batch внутри транзакции:
// all-or-nothing на границе batch-вызова, по одному INSERT на событие
// не ходим. Возвращает события с server-assigned id.
//
// Хранилище порядок не проверяет — корректность упорядочивания лежит
// на рекордере до отправки.
func (dm *DatabaseManager) InsertEventBatch(pointID string, events []RecordingEvent) ([]RecordingEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := dm.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin event batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	query := `
        INSERT INTO recording_events (point_id, event_type, timestamp_ms, payload)
        VALUES ($1, $2, $3, $4)
        RETURNING id`

	for _, ev := range events {
		batch.Queue(query, pointID, string(ev.Type), ev.TimestampMs, ev.Payload)
	}

	results := tx.SendBatch(ctx, batch)

	saved := make([]RecordingEvent, len(events))
	for i, ev := range events {
		ev.PointID = pointID
		if err := results.QueryRow().Scan(&ev.ID); err != nil {
			results.Close()
			return nil, fmt.Errorf("event batch insert failed at event %d: %w", i, err)
		}
		saved[i] = ev
	}

	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("failed to close event batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit event batch: %w", err)
	}

	log.Printf("📊 DB: Inserted %d events for %s in a single batch", len(saved), pointID)
	return saved, nil
}

// GetCoachingPoint возвращает одну запись по point_id
func (dm *DatabaseManager) GetCoachingPoint(pointID string) (*CoachingPoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT point_id, author_id, author_name, title, duration_ms,
               audio_path, audio_missing, events_saved, status, created_at, updated_at
        FROM coaching_points
        WHERE point_id = $1`

	var p CoachingPoint
	err := dm.pool.QueryRow(ctx, query, pointID).Scan(
		&p.PointID, &p.AuthorID, &p.AuthorName, &p.Title, &p.DurationMs,
		&p.AudioPath, &p.AudioMissing, &p.EventsSaved, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get coaching point: %w", err)
	}

	return &p, nil
}

// GetPointEvents возвращает лог событий в порядке записи:
// по timestamp_ms, ties — по порядку вставки (id)
func (dm *DatabaseManager) GetPointEvents(pointID string) ([]RecordingEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
        SELECT id, point_id, event_type, timestamp_ms, payload
        FROM recording_events
        WHERE point_id = $1
        ORDER BY timestamp_ms ASC, id ASC`

	rows, err := dm.pool.Query(ctx, query, pointID)
	if err != nil {
		return nil, fmt.Errorf("failed to get point events: %w", err)
	}
	defer rows.Close()

	var events []RecordingEvent
	for rows.Next() {
		var ev RecordingEvent
		var evType string
		if err := rows.Scan(&ev.ID, &ev.PointID, &evType, &ev.TimestampMs, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan recording event: %w", err)
		}
		ev.Type = EventType(evType)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// ListCoachingPoints список записей (limit/offset)
func (dm *DatabaseManager) ListCoachingPoints(limit, offset int) ([]CoachingPoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
        SELECT point_id, author_id, author_name, title, duration_ms,
               audio_path, audio_missing, events_saved, status, created_at, updated_at
        FROM coaching_points
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := dm.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list coaching points: %w", err)
	}
	defer rows.Close()

	var points []CoachingPoint
	for rows.Next() {
		var p CoachingPoint
		err := rows.Scan(
			&p.PointID, &p.AuthorID, &p.AuthorName, &p.Title, &p.DurationMs,
			&p.AudioPath, &p.AudioMissing, &p.EventsSaved, &p.Status,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coaching point: %w", err)
		}
		points = append(points, p)
	}

	log.Printf("📊 DB: Listed %d coaching points (limit: %d, offset: %d)", len(points), limit, offset)
	return points, rows.Err()
}

// TagViewers best-effort привязка отмеченных зрителей
func (dm *DatabaseManager) TagViewers(pointID string, viewerIDs []int) error {
	if len(viewerIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, id := range viewerIDs {
		batch.Queue(
			`INSERT INTO point_viewers (point_id, viewer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			pointID, id)
	}

	results := dm.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range viewerIDs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to tag viewers: %w", err)
		}
	}

	log.Printf("📊 DB: Tagged %d viewers for %s", len(viewerIDs), pointID)
	return nil
}

// AddLabels best-effort привязка category labels
func (dm *DatabaseManager) AddLabels(pointID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, label := range labels {
		batch.Queue(
			`INSERT INTO point_labels (point_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			pointID, label)
	}

	results := dm.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range labels {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to add labels: %w", err)
		}
	}

	log.Printf("📊 DB: Added %d labels for %s", len(labels), pointID)
	return nil
}

func (dm *DatabaseManager) Close() {
	if dm.pool != nil {
		dm.pool.Close()
		log.Println("📊 Database connection closed")
	}
}
