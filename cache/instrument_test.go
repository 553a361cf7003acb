package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgym/gymbot/types"
)

type stubConfig struct {
	cache *types.CacheConfig
}

func (c *stubConfig) Load() error { return nil }
func (c *stubConfig) GetConfig() *types.ServiceConfig {
	return &types.ServiceConfig{Cache: c.cache}
}
func (c *stubConfig) GetAs(string, interface{}) error { return types.ErrConfigNotFound }

func (c *stubConfig) GetValue(_ string, defaultValue interface{}) interface{} {
	return defaultValue
}

func TestNewCacheManagerDisabled(t *testing.T) {
	_, err := NewCacheManager(context.Background(), &stubConfig{cache: nil}, nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheIsDisabled)

	_, err = NewCacheManager(context.Background(), &stubConfig{cache: &types.CacheConfig{Enabled: false}}, nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheIsDisabled)
}

func TestNewCacheManagerDefaultType(t *testing.T) {
	for _, cacheType := range []string{"", "memory"} {
		cm, err := NewCacheManager(context.Background(), &stubConfig{cache: &types.CacheConfig{
			Enabled: true,
			Type:    cacheType,
		}}, nil, nil)
		require.NoError(t, err)

		_, ok := cm.(*Manager)
		assert.True(t, ok, "type %q should build the namespace manager", cacheType)
	}
}

func TestNewCacheManagerUnknownType(t *testing.T) {
	_, err := NewCacheManager(context.Background(), &stubConfig{cache: &types.CacheConfig{
		Enabled: true,
		Type:    "no-such-backend",
	}}, nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheTypeUnknown)
}

func TestNewCacheManagerCustomCreator(t *testing.T) {
	var received interface{}
	RegisterCacheManager("custom", func(config interface{}) (types.CacheManager, error) {
		received = config
		return NewManager(context.Background(), config.(*types.CacheConfig), nil, nil), nil
	})

	cacheConfig := &types.CacheConfig{Enabled: true, Type: "custom"}
	cm, err := NewCacheManager(context.Background(), &stubConfig{cache: cacheConfig}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, cm)

	// The creator gets the cache config block and its manager is used
	// as-is when no metrics manager wraps it.
	assert.Same(t, cacheConfig, received)
	require.NoError(t, cm.Set(types.NamespaceGym, "k", 1, 0))
	value, ok := cm.Get(types.NamespaceGym, "k")
	require.True(t, ok)
	assert.Equal(t, 1, value)
}
