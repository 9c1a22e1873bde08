package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type StorageManager struct {
	client *minio.Client
	bucket string
}

func NewStorageManager() (*StorageManager, error) {
	endpoint := getEnv("MINIO_ENDPOINT", "minio:9000")
	accessKey := getEnv("MINIO_ACCESS_KEY", "minioadmin")
	secretKey := getEnv("MINIO_SECRET_KEY", "minioadmin123")
	bucket := getEnv("MINIO_BUCKET", "coaching-audio")

	log.Printf("📁 Connecting to MinIO: %s, audio bucket: %s", endpoint, bucket)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false, // HTTP для локальной разработки
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	sm := &StorageManager{
		client: client,
		bucket: bucket,
	}

	if err := sm.ensureBucket(); err != nil {
		return nil, fmt.Errorf("failed to ensure audio bucket: %w", err)
	}

	log.Println("✅ MinIO storage manager initialized")
	return sm, nil
}

func (sm *StorageManager) ensureBucket() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := sm.client.BucketExists(ctx, sm.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("📁 Creating audio bucket: %s", sm.bucket)
		if err := sm.client.MakeBucket(ctx, sm.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("✅ Created audio bucket: %s", sm.bucket)
	}

	return nil
}

// audioObjectName ключ write-once объекта наррации
func audioObjectName(pointID string) string {
	return fmt.Sprintf("points/%s/narration.webm", pointID)
}

// UploadAudio загружает аудио артефакт наррации из staged файла и
// возвращает стабильную ссылку (object key). Объект write-once:
// повторная загрузка для той же записи не предполагается.
func (sm *StorageManager) UploadAudio(pointID, localPath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	objectName := audioObjectName(pointID)

	info, err := sm.client.FPutObject(ctx, sm.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "audio/webm",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio for %s: %w", pointID, err)
	}

	log.Printf("📁 Uploaded narration audio: %s (%d bytes)", objectName, info.Size)
	return objectName, nil
}

// PresignedAudioURL временная ссылка для playback-слоя.
// Для него это просто opaque fetchable audio source.
func (sm *StorageManager) PresignedAudioURL(ctx context.Context, audioPath string, expiry time.Duration) (string, error) {
	url, err := sm.client.PresignedGetObject(ctx, sm.bucket, audioPath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned audio URL: %w", err)
	}

	return url.String(), nil
}

// RemoveLocalFile очистка staged файла после загрузки
func (sm *StorageManager) RemoveLocalFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ Could not remove local file %s: %v", path, err)
	}
}
