package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/domain/photo"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

const downloadURLBase = "https://firebasestorage.googleapis.com/v0/b/"

var (
	ErrInvalidRef     = errors.New("写真の参照が不正です")
	ErrObjectNotFound = errors.New("写真が見つかりません")
)

// objectStore はバケットへの読み書きを抽象化する
type objectStore interface {
	Write(ctx context.Context, key, contentType string, r io.Reader) error
	Delete(ctx context.Context, key string) error
}

// bucketStore は Cloud Storage のバケットを objectStore として扱う
type bucketStore struct {
	bucket *gcs.BucketHandle
}

func (s *bucketStore) Write(ctx context.Context, key, contentType string, r io.Reader) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *bucketStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	return err
}

// PhotoUploader は Firebase Storage に写真を保存する
type PhotoUploader struct {
	store  objectStore
	bucket string
}

// NewPhotoUploader はサービスアカウントでバケットに接続する
func NewPhotoUploader(ctx context.Context, cfg *config.FirebaseConfig) (*PhotoUploader, error) {
	credentials, err := cfg.DecodeCredentials()
	if err != nil {
		return nil, fmt.Errorf("Firebase認証情報のデコードに失敗: %w", err)
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: cfg.StorageBucket}, option.WithCredentialsJSON(credentials))
	if err != nil {
		return nil, fmt.Errorf("Firebaseの初期化に失敗: %w", err)
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("Storageクライアントの作成に失敗: %w", err)
	}
	bucket, err := client.DefaultBucket()
	if err != nil {
		return nil, fmt.Errorf("バケットの取得に失敗: %w", err)
	}
	return newPhotoUploader(&bucketStore{bucket: bucket}, cfg.StorageBucket), nil
}

func newPhotoUploader(store objectStore, bucket string) *PhotoUploader {
	return &PhotoUploader{store: store, bucket: bucket}
}

// Upload はファイルを category/<uuid><拡張子> に保存し、ダウンロードURLを返す
func (u *PhotoUploader) Upload(ctx context.Context, file photo.File, category string) (string, error) {
	key := category + "/" + uuid.NewString() + strings.ToLower(path.Ext(file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := u.store.Write(ctx, key, contentType, file.Content); err != nil {
		return "", fmt.Errorf("写真のアップロードに失敗: %w", err)
	}
	logger.Debug("写真をアップロードしました",
		zap.String("bucket", u.bucket),
		zap.String("key", key),
		zap.Int64("size", file.Size),
	)
	return u.refFor(key), nil
}

// Delete は Upload が返したURLのオブジェクトを削除する
func (u *PhotoUploader) Delete(ctx context.Context, ref string) error {
	key, err := u.keyFor(ref)
	if err != nil {
		return err
	}
	if err := u.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("写真の削除に失敗: %w", err)
	}
	return nil
}

func (u *PhotoUploader) refFor(key string) string {
	return downloadURLBase + u.bucket + "/o/" + url.PathEscape(key) + "?alt=media"
}

func (u *PhotoUploader) keyFor(ref string) (string, error) {
	prefix := downloadURLBase + u.bucket + "/o/"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	escaped := strings.TrimPrefix(ref, prefix)
	if i := strings.IndexByte(escaped, '?'); i >= 0 {
		escaped = escaped[:i]
	}
	key, err := url.PathUnescape(escaped)
	if err != nil || key == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return key, nil
}

var _ photo.Uploader = (*PhotoUploader)(nil)
