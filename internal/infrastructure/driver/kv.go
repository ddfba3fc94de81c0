package driver

import (
	"errors"
	"time"
)

// ErrKeyNotFound the requested key is absent from the store
var ErrKeyNotFound = errors.New("key not found")

// KeyValueDB define a key-value storage interface
type KeyValueDB interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	SetEX(key string, value string, expiration time.Duration) error
	Del(key string) error
	Exists(key string) (bool, error)
	Ping() error
}
