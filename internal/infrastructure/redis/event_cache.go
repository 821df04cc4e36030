package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// 世代番号が読み取り開始時から変わっていない場合だけ保存する
var setIfGenerationScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[2])
	if current == false then
		current = "0"
	end
	if current == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
		return 1
	end
	return 0
`)

// generationTTL は世代番号の保持期間
// 読み取り中のリクエストより十分長く残っていればよい
const generationTTL = 24 * time.Hour

// EventCache はイベント詳細の読み取りキャッシュ
// 更新・削除・投票のたびに世代番号を進めて無効化する
type EventCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventCache(client *redis.Client, ttl time.Duration) *EventCache {
	return &EventCache{client: client, ttl: ttl}
}

// Get はキャッシュされたイベントを取得する
func (c *EventCache) Get(ctx context.Context, id string) (*event.Event, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	var e event.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("キャッシュのデコードに失敗: %w", err)
	}
	return &e, nil
}

// Generation はイベントの現在の世代番号を返す
// ストアから読み取る前に取得し、Set に渡す
func (c *EventCache) Generation(ctx context.Context, id string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("世代番号の取得に失敗: %w", err)
	}
	return gen, nil
}

// Set はイベントをキャッシュに保存する
// generation 以降に無効化されていた場合は保存せず false を返す
func (c *EventCache) Set(ctx context.Context, e *event.Event, generation int64) (bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("キャッシュのエンコードに失敗: %w", err)
	}
	stored, err := setIfGenerationScript.Run(ctx, c.client,
		[]string{c.key(e.ID), c.generationKey(e.ID)},
		generation, raw, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return stored == 1, nil
}

// Invalidate はイベントのキャッシュを無効化する
// 世代番号を進めるので、無効化前に読み取った内容は以後保存されない
func (c *EventCache) Invalidate(ctx context.Context, id string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.generationKey(id))
	pipe.Expire(ctx, c.generationKey(id), generationTTL)
	pipe.Del(ctx, c.key(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func (c *EventCache) key(id string) string {
	return fmt.Sprintf("events:detail:%s", id)
}

func (c *EventCache) generationKey(id string) string {
	return fmt.Sprintf("events:generation:%s", id)
}
