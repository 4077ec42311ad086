package publisher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	publisher := NewRedisPublisher("localhost:6379", 0, "dealingest_test_stream", 1, 10)
	defer publisher.Close()

	if err := publisher.Ping(ctx); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   0,
	})
	defer client.Close()

	stream := "dealingest_test_stream:0"
	client.Del(ctx, stream)
	defer client.Del(ctx, stream)

	err := client.XGroupCreateMkStream(ctx, stream, "test_group", "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		require.NoError(t, err)
	}

	messages := make(chan string, 1)

	go func() {
		message, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Streams:  []string{stream, ">"},
			Group:    "test_group",
			Consumer: "test_consumer",
			Block:    2 * time.Second,
		}).Result()
		if err != nil || len(message) == 0 || len(message[0].Messages) == 0 {
			return
		}
		messages <- message[0].Messages[0].Values["deal"].(string)
	}()

	time.Sleep(100 * time.Millisecond)

	err = publisher.Publish(ctx, "deal", []byte("test_message"))
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "dGVzdF9tZXNzYWdl", msg) // base64 of "test_message"
	case <-time.After(3 * time.Second):
		t.Error("Timed out waiting for message")
	}
}

func TestRedisPublisherTrimStreams(t *testing.T) {
	ctx := context.Background()
	publisher := NewRedisPublisher("localhost:6379", 0, "dealingest_trim_stream", 2, 3)
	defer publisher.Close()

	if err := publisher.Ping(ctx); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	defer client.Del(ctx, "dealingest_trim_stream:0", "dealingest_trim_stream:1")

	for i := 0; i < 20; i++ {
		require.NoError(t, publisher.Publish(ctx, "deal", []byte("m")))
	}
	require.NoError(t, publisher.TrimStreams(ctx))

	for _, stream := range []string{"dealingest_trim_stream:0", "dealingest_trim_stream:1"} {
		n, err := client.XLen(ctx, stream).Result()
		require.NoError(t, err)
		assert.LessOrEqual(t, n, int64(3))
	}
}
