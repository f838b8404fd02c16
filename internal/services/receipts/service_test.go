package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
)

type uploaderStub struct {
	bucket string
	object string
	body   []byte
	err    error
}

func (u *uploaderStub) PutObject(_ context.Context, bucketName, objectName string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if u.err != nil {
		return minio.UploadInfo{}, u.err
	}
	u.bucket = bucketName
	u.object = objectName
	u.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName}, nil
}

func TestArchiveWritesReceiptObject(t *testing.T) {
	uploader := &uploaderStub{}
	svc := NewService(uploader, "receipts", nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	key, err := svc.Archive(context.Background(), model.PurchaseAttempt{
		ID:             "p-1",
		UserID:         7,
		ProductID:      "course-pro",
		Method:         enums.PaymentMethodStablecoin,
		Status:         enums.PurchaseStatusConfirmed,
		DueAmount:      90,
		ProofReference: "0xabc123",
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	if key != "receipts/7/2025-06/p-1.json" {
		t.Fatalf("unexpected object key: %s", key)
	}
	if uploader.bucket != "receipts" {
		t.Fatalf("unexpected bucket: %s", uploader.bucket)
	}

	var body map[string]any
	if err := json.Unmarshal(uploader.body, &body); err != nil {
		t.Fatalf("receipt body must be json: %v", err)
	}
	if body["purchaseId"] != "p-1" || body["status"] != "confirmed" {
		t.Fatalf("unexpected receipt body: %v", body)
	}
}

func TestArchiveFailuresAreReported(t *testing.T) {
	uploader := &uploaderStub{err: errors.New("bucket gone")}
	svc := NewService(uploader, "receipts", nil)

	if _, err := svc.Archive(context.Background(), model.PurchaseAttempt{ID: "p-1", UserID: 7}); err == nil || !strings.Contains(err.Error(), "upload receipt") {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestArchiveValidation(t *testing.T) {
	svc := NewService(&uploaderStub{}, "receipts", nil)

	if _, err := svc.Archive(context.Background(), model.PurchaseAttempt{UserID: 7}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
