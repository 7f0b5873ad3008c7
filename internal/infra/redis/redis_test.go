package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisConnects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer client.Close()
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis("not-a-redis-url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestNewRedisUnreachableServer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedis("redis://" + addr); err == nil {
		t.Fatal("expected ping failure against a closed server")
	}
}
