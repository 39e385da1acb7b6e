package cache

import (
	"fmt"
	"strings"
)

const lockPrefix = "lock:"

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// GenerateKeyWithParams creates a cache key with multiple parameters.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	key := prefix
	for _, param := range params {
		key = fmt.Sprintf("%s:%v", key, param)
	}
	return key
}

func lockKey(key string) string { return lockPrefix + key }

func isLockKey(key string) bool { return strings.HasPrefix(key, lockPrefix) }
