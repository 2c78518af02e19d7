package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/autobot/internal/domain"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"autobot", []string{"price", "KRW-BTC"}, "autobot:price:KRW-BTC"},
		{"autobot:", []string{"lock", "rsi/KRW-BTC"}, "autobot:lock:rsi/KRW-BTC"},
		{"", []string{"ch:outcome"}, "ch:outcome"},
	}
	for _, tt := range tests {
		c := NewFromRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), tt.prefix)
		if got := c.key(tt.parts...); got != tt.want {
			t.Errorf("key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
		_ = c.Close()
	}
}

func TestParsePrice(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	price, got, err := parsePrice(map[string]string{"price": "101.5", "ts": "1767323045000000000"})
	if err != nil {
		t.Fatalf("parsePrice: %v", err)
	}
	if price != 101.5 || !got.Equal(ts) {
		t.Fatalf("parsePrice = %v at %v, want 101.5 at %v", price, got, ts)
	}

	if _, _, err := parsePrice(map[string]string{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty hash: err = %v, want ErrNotFound", err)
	}
	if _, _, err := parsePrice(map[string]string{"price": "x", "ts": "1"}); err == nil {
		t.Error("malformed price: want error")
	}
}
