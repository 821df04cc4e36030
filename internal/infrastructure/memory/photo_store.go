package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-event-board/internal/domain/photo"
)

const photoRefScheme = "memory://"

var ErrPhotoNotFound = errors.New("写真が見つかりません")

// PhotoStore は写真をメモリに保存する Uploader
type PhotoStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewPhotoStore() *PhotoStore {
	return &PhotoStore{objects: make(map[string][]byte)}
}

func (s *PhotoStore) Upload(ctx context.Context, file photo.File, category string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := io.ReadAll(file.Content)
	if err != nil {
		return "", fmt.Errorf("写真の読み込みに失敗: %w", err)
	}
	key := category + "/" + uuid.NewString() + path.Ext(file.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	return photoRefScheme + key, nil
}

func (s *PhotoStore) Delete(ctx context.Context, ref string) error {
	key := strings.TrimPrefix(ref, photoRefScheme)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrPhotoNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len は保存されている写真の数を返す
func (s *PhotoStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var _ photo.Uploader = (*PhotoStore)(nil)
