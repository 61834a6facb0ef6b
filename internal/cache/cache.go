package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Joseda-hg/notegrid/internal/model"
)

// Keys kept compatible with the web and mobile clients.
const (
	DataKey       = "eisenhower_data"
	CredentialKey = "eisenhower_uuid"
	ThemeKey      = "theme"
)

// KV is the durable key-value backend. db.Store and db.RedisStore both
// satisfy it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var errCorrupt = errors.New("corrupt cached document")

// Cache is the local persistence adapter. It holds no copy of the data; every
// call goes to the backend.
type Cache struct {
	kv  KV
	log *zap.SugaredLogger
}

func New(kv KV, log *zap.SugaredLogger) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{kv: kv, log: log}
}

// Load returns the cached document, or nil when nothing usable is stored.
// Unreadable or corrupt entries are logged and treated as absent.
func (c *Cache) Load(ctx context.Context) *model.UserData {
	data, err := c.load(ctx)
	if err != nil {
		c.log.Warnw("ignoring cached data", "error", err)
		return nil
	}
	return data
}

func (c *Cache) load(ctx context.Context) (*model.UserData, error) {
	raw, ok, err := c.kv.Get(ctx, DataKey)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: DataKey, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var data *model.UserData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, &StorageError{Op: "decode", Key: DataKey, Err: err}
	}
	if data == nil {
		return nil, &StorageError{Op: "decode", Key: DataKey, Err: errCorrupt}
	}

	normalized := data.Clone()
	return &normalized, nil
}

func (c *Cache) Save(ctx context.Context, data model.UserData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return &StorageError{Op: "encode", Key: DataKey, Err: err}
	}
	if err := c.kv.Set(ctx, DataKey, string(payload)); err != nil {
		return &StorageError{Op: "write", Key: DataKey, Err: err}
	}
	return nil
}

func (c *Cache) ClearData(ctx context.Context) error {
	if err := c.kv.Delete(ctx, DataKey); err != nil {
		return &StorageError{Op: "delete", Key: DataKey, Err: err}
	}
	return nil
}

// Credential returns the stored credential, or "" when none is stored.
func (c *Cache) Credential(ctx context.Context) (string, error) {
	value, _, err := c.kv.Get(ctx, CredentialKey)
	if err != nil {
		return "", &StorageError{Op: "read", Key: CredentialKey, Err: err}
	}
	return value, nil
}

func (c *Cache) SetCredential(ctx context.Context, credential string) error {
	if err := c.kv.Set(ctx, CredentialKey, credential); err != nil {
		return &StorageError{Op: "write", Key: CredentialKey, Err: err}
	}
	return nil
}

func (c *Cache) ClearCredential(ctx context.Context) error {
	if err := c.kv.Delete(ctx, CredentialKey); err != nil {
		return &StorageError{Op: "delete", Key: CredentialKey, Err: err}
	}
	return nil
}

func (c *Cache) Theme(ctx context.Context) model.Theme {
	value, _, err := c.kv.Get(ctx, ThemeKey)
	if err != nil {
		c.log.Warnw("reading theme", "error", err)
	}
	theme, _ := model.ParseTheme(value)
	return theme
}

func (c *Cache) SetTheme(ctx context.Context, theme model.Theme) error {
	if err := c.kv.Set(ctx, ThemeKey, string(theme)); err != nil {
		return &StorageError{Op: "write", Key: ThemeKey, Err: err}
	}
	return nil
}
