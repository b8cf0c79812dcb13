package cache

import (
	"context"
	"strings"
	"testing"

	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

func TestNilCacheIsNoOp(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, config.RedisConfig{}, nil)
	if err != nil || c != nil {
		t.Fatalf("empty addr: cache=%v err=%v", c, err)
	}
	if err := c.Put(ctx, &engine.Result{RunID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if res, ok, err := c.Job(ctx, "r1"); res != nil || ok || err != nil {
		t.Fatalf("nil cache returned %v %v %v", res, ok, err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestKeys(t *testing.T) {
	if k := ResultKey("cfg", "data", "rolls"); k != "turtle:result:cfg:data:rolls" {
		t.Fatalf("key = %s", k)
	}
	if k := JobKey("abc"); !strings.HasPrefix(k, "turtle:job:") {
		t.Fatalf("key = %s", k)
	}
}
