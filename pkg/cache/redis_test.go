package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
)

func TestNewRedisDisabledReturnsNil(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestKey(t *testing.T) {
	require.Equal(t, "sqlclassroom:etalon:task-1:abc", Key("etalon", "task-1", "abc"))
}
