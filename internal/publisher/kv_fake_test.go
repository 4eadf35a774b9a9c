package publisher_test

import (
	"context"
	"sync"
	"time"

	"respirosync/internal/publisher"
)

// fakeKVStore 仅用于单元测试（内存 KV + TTL）
type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]fakeKVItem
}

type fakeKVItem struct {
	value   string
	ttl     time.Duration
	expires time.Time // zero = no ttl
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{
		data: make(map[string]fakeKVItem),
	}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.data[key]
	if !ok {
		return "", publisher.ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", publisher.ErrCacheMiss
	}
	return item.value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, ttl: ttl, expires: exp}
	return nil
}

func (f *fakeKVStore) ttlOf(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key].ttl
}

// fakeStreamWriter 记录写入的消息
type fakeStreamWriter struct {
	mu       sync.Mutex
	messages map[string][]interface{}
	err      error
}

func newFakeStreamWriter() *fakeStreamWriter {
	return &fakeStreamWriter{messages: make(map[string][]interface{})}
}

func (f *fakeStreamWriter) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.messages[stream] = append(f.messages[stream], data)
	return "1-0", nil
}

func (f *fakeStreamWriter) count(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[stream])
}
