package services

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"covertext/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PacketStorageService stores policy packet documents in S3-compatible object
// storage and renders their public URLs for the packet dispatcher.
type PacketStorageService struct {
	s3Client *s3.S3
	bucket   string
	baseURL  string
}

// NewPacketStorageService creates a new packet storage service from the
// injected configuration.
func NewPacketStorageService(cfg *config.Config) (*PacketStorageService, error) {
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 configuration missing")
	}

	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String("us-east-1"),
		Endpoint: aws.String(cfg.S3Endpoint),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	baseURL := cfg.S3PublicURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s", cfg.S3Bucket)
	}

	return &PacketStorageService{
		s3Client: s3.New(sess),
		bucket:   cfg.S3Bucket,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// UploadPacketDocument stores one uploaded packet document under the agency's
// prefix and returns its object key.
func (s *PacketStorageService) UploadPacketDocument(fileHeader *multipart.FileHeader, agencyID, dealID uuid.UUID) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer file.Close()

	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".pdf"
	}
	key := fmt.Sprintf("%s/packets/%s/%s%s", agencyID, dealID, uuid.NewString(), ext)

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && n == 0 {
		return "", fmt.Errorf("failed to read file for content type detection: %w", err)
	}
	file.Seek(0, 0)

	contentType := http.DetectContentType(buffer[:n])

	_, err = s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("key", key).Msg("packet document uploaded")
	return key, nil
}

// DeleteDocument removes a stored packet document.
func (s *PacketStorageService) DeleteDocument(key string) error {
	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// PublicURL renders a stored key as the client-facing URL.
func (s *PacketStorageService) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}
