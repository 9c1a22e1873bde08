package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

var (
	dbManager      *DatabaseManager
	storageManager *StorageManager
	producer       *KafkaProducer
	workerPool     *WorkerPool
)

func main() {
	log.Println("🎙️ Starting Coaching Point Service...")

	if err := initializeServices(); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Persister: best-effort secondary по умолчанию, PERSIST_STRICT=true
	// делает batch событий транзакционным
	strict := getEnv("PERSIST_STRICT", "false") == "true"
	persister := NewPersister(dbManager, storageManager, strict)
	if strict {
		log.Println("⚠️ PERSIST_STRICT enabled: event batch failures fail the whole creation")
	}

	// Worker pool для обработки persist задач
	workerPool = NewWorkerPool(3, persister) // 3 параллельных воркера
	workerPool.Start()

	consumer := NewKafkaConsumer()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := consumer.Start(ctx, workerPool.JobChannel); err != nil {
			log.Printf("Consumer error: %v", err)
		}
	}()

	// HTTP API
	h := &Handlers{
		db:       dbManager,
		storage:  storageManager,
		producer: producer,
	}

	r := mux.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/coaching-points", h.CreateCoachingPoint).Methods("POST")
	api.HandleFunc("/coaching-points", h.ListCoachingPoints).Methods("GET")
	api.HandleFunc("/coaching-points/{pointId}", h.GetCoachingPoint).Methods("GET")
	api.HandleFunc("/coaching-points/{pointId}/audio", h.GetAudioURL).Methods("GET")

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	port := getEnv("PORT", "8082")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      corsHandler.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("✅ Coaching Point Service starting on port %s", port)
		log.Printf("📋 Available endpoints:")
		log.Printf("  POST /api/v1/coaching-points")
		log.Printf("  GET  /api/v1/coaching-points")
		log.Printf("  GET  /api/v1/coaching-points/{id}")
		log.Printf("  GET  /api/v1/coaching-points/{id}/audio")
		log.Printf("  GET  /health")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("✅ Coaching Point Service is running...")
	<-c

	log.Println("🛑 Shutting down Coaching Point Service...")
	cancel()
	workerPool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server forced to shutdown: %v", err)
	}

	if producer != nil {
		producer.Close()
	}
	if dbManager != nil {
		dbManager.Close()
	}

	log.Println("✅ Coaching Point Service stopped")
}

func initializeServices() error {
	var err error

	dbManager, err = NewDatabaseManager()
	if err != nil {
		return err
	}

	storageManager, err = NewStorageManager()
	if err != nil {
		return err
	}

	producer, err = NewKafkaProducer()
	if err != nil {
		return err
	}

	log.Println("✅ All services initialized")
	return nil
}

// WorkerPool для параллельной обработки persist задач
type WorkerPool struct {
	workerCount int
	JobChannel  chan PersistTask
	persister   *Persister
	wg          sync.WaitGroup
	quit        chan bool
}

func NewWorkerPool(workerCount int, persister *Persister) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		JobChannel:  make(chan PersistTask, 100), // Буфер на 100 задач
		persister:   persister,
		quit:        make(chan bool),
	}
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) Stop() {
	close(wp.quit)
	wp.wg.Wait()
	close(wp.JobChannel)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	log.Printf("🔧 Worker %d started", id)

	for {
		select {
		case task := <-wp.JobChannel:
			log.Printf("🔧 Worker %d processing point: %s", id, task.PointID)

			result, err := wp.persister.Persist(task)
			if err != nil {
				log.Printf("❌ Persist failed for %s: %v", task.PointID, err)
				continue
			}
			for _, warning := range result.Warnings {
				log.Printf("⚠️ %s: %s", task.PointID, warning)
			}

		case <-wp.quit:
			log.Printf("🔧 Worker %d stopping", id)
			return
		}
	}
}
