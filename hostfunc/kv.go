package hostfunc

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 << 10
	DefaultKVMaxEntries   = 1000
)

// KVConfig bounds a KV store. Zero fields take the defaults.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

// DefaultKVConfig returns the default limits.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KV is an in-memory key-value store holding JSON values. It is registered
// under the "kv" namespace.
type KV struct {
	cfg  KVConfig
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewKV creates an empty store.
func NewKV(cfg KVConfig) *KV {
	def := DefaultKVConfig()
	if cfg.MaxKeySize == 0 {
		cfg.MaxKeySize = def.MaxKeySize
	}
	if cfg.MaxValueSize == 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &KV{cfg: cfg, data: make(map[string]json.RawMessage)}
}

// Register installs kv/get, kv/set, kv/delete and kv/keys.
func (s *KV) Register(r *Registry) {
	r.Register("kv", "get", JSON(s.Get))
	r.Register("kv", "set", JSON(s.Set))
	r.Register("kv", "delete", JSON(s.Delete))
	r.Register("kv", "keys", JSON(s.Keys))
}

// Get returns the value for a key, or the request default when missing.
func (s *KV) Get(_ context.Context, _ *Call, req KVGetRequest) (KVGetResponse, error) {
	if req.Key == "" {
		return KVGetResponse{}, invalid("key required")
	}

	s.mu.RLock()
	val, exists := s.data[req.Key]
	s.mu.RUnlock()

	if !exists {
		return KVGetResponse{Value: orNull(req.Default)}, nil
	}
	return KVGetResponse{Value: val, Found: true}, nil
}

// Set stores a value.
func (s *KV) Set(_ context.Context, _ *Call, req KVSetRequest) (OK, error) {
	if req.Key == "" {
		return OK{}, invalid("key required")
	}
	if len(req.Value) == 0 {
		return OK{}, invalid("value required")
	}
	if len(req.Key) > s.cfg.MaxKeySize {
		return OK{}, invalid("key exceeds %d bytes", s.cfg.MaxKeySize)
	}
	if len(req.Value) > s.cfg.MaxValueSize {
		return OK{}, invalid("value exceeds %d bytes", s.cfg.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[req.Key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return OK{}, invalid("store holds the maximum of %d entries", s.cfg.MaxEntries)
	}
	s.data[req.Key] = slices.Clone(req.Value)
	return okResponse, nil
}

// Delete removes a key. Deleting a missing key succeeds.
func (s *KV) Delete(_ context.Context, _ *Call, req KVDeleteRequest) (OK, error) {
	if req.Key == "" {
		return OK{}, invalid("key required")
	}

	s.mu.Lock()
	delete(s.data, req.Key)
	s.mu.Unlock()

	return okResponse, nil
}

// Keys lists the stored keys in sorted order.
func (s *KV) Keys(_ context.Context, _ *Call, _ struct{}) (KVKeysResponse, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.Sort(keys)
	return KVKeysResponse{Keys: keys}, nil
}

func orNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}
