package routing

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCursorStore(t *testing.T, s CursorStore) {
	ctx := context.Background()

	var got []int
	for i := 0; i < 5; i++ {
		idx, err := s.Next(ctx, "cfg-a", 3)
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1}, got)

	idx, err := s.Next(ctx, "cfg-b", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, s.Reset(ctx, "cfg-a"))
	idx, err = s.Next(ctx, "cfg-a", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, s.ResetAll(ctx))
	idx, err = s.Next(ctx, "cfg-b", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = s.Next(ctx, "cfg-a", 0)
	assert.Error(t, err)
}

func TestMemoryCursorStore(t *testing.T) {
	exerciseCursorStore(t, NewMemoryCursorStore())
}

func TestRedisCursorStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisCursorStore(client, "router:")
	exerciseCursorStore(t, s)

	// ResetAll only touches cursor keys
	require.NoError(t, mr.Set("router:bot:1", "cached"))
	_, err := s.Next(context.Background(), "cfg-a", 3)
	require.NoError(t, err)
	assert.True(t, mr.Exists("router:rr:cfg-a"))

	require.NoError(t, s.ResetAll(context.Background()))
	assert.False(t, mr.Exists("router:rr:cfg-a"))
	assert.True(t, mr.Exists("router:bot:1"))
}

func TestMemoryCursorStore_Concurrent(t *testing.T) {
	s := NewMemoryCursorStore()
	ctx := context.Background()

	done := make(chan int, 300)
	for i := 0; i < 300; i++ {
		go func() {
			idx, _ := s.Next(ctx, "cfg", 3)
			done <- idx
		}()
	}
	counts := make([]int, 3)
	for i := 0; i < 300; i++ {
		counts[<-done]++
	}
	assert.Equal(t, []int{100, 100, 100}, counts)
}
