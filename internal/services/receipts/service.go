package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
)

var ErrValidation = errors.New("validation error")

// Uploader is the slice of the object storage client the archive needs.
type Uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Service archives a JSON receipt for every resolved purchase so support can
// reconstruct what the user saw without access to the backend.
type Service struct {
	uploader Uploader
	bucket   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(uploader Uploader, bucket string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		uploader: uploader,
		bucket:   bucket,
		logger:   logger,
		now:      time.Now,
	}
}

type receipt struct {
	PurchaseID     string  `json:"purchaseId"`
	UserID         int64   `json:"userId"`
	ProductID      string  `json:"productId"`
	Method         string  `json:"method"`
	Status         string  `json:"status"`
	DueAmount      float64 `json:"dueAmount"`
	ProofReference string  `json:"proofReference,omitempty"`
	ResolvedAt     string  `json:"resolvedAt"`
}

// Archive stores the resolved attempt as a receipt object. Storage being down
// must never block resolution, so callers treat the returned error as
// advisory.
func (s *Service) Archive(ctx context.Context, attempt model.PurchaseAttempt) (string, error) {
	if s.uploader == nil || strings.TrimSpace(s.bucket) == "" {
		return "", fmt.Errorf("receipt storage is not configured")
	}
	if attempt.ID == "" || attempt.UserID <= 0 {
		return "", ErrValidation
	}

	resolvedAt := s.now().UTC()
	body, err := json.Marshal(receipt{
		PurchaseID:     attempt.ID,
		UserID:         attempt.UserID,
		ProductID:      attempt.ProductID,
		Method:         string(attempt.Method),
		Status:         string(attempt.Status),
		DueAmount:      attempt.DueAmount,
		ProofReference: attempt.ProofReference,
		ResolvedAt:     resolvedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	objectName := objectKey(attempt.UserID, attempt.ID, resolvedAt)
	_, err = s.uploader.PutObject(ctx, s.bucket, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}

	s.logger.Info("receipt archived",
		zap.String("purchase_id", attempt.ID),
		zap.String("object", objectName),
	)
	return objectName, nil
}

func objectKey(userID int64, purchaseID string, resolvedAt time.Time) string {
	return fmt.Sprintf("receipts/%d/%s/%s.json", userID, resolvedAt.Format("2006-01"), purchaseID)
}
