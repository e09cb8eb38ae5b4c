package repository

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed release.lua
var releaseLuaScript string

var releaseScript = redis.NewScript(releaseLuaScript)

// ClaimGuard serializes concurrent deliveries of the same provider event.
// It is an optimisation in front of the idempotency ledger, not a replacement
// for it: a lost claim (expired TTL) is still caught by ApplyOnce.
type ClaimGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClaimGuard(rdb *redis.Client, ttl time.Duration) *ClaimGuard {
	return &ClaimGuard{rdb: rdb, ttl: ttl}
}

// Claim takes the in-flight lock for key. The returned release func only
// deletes the lock if it still holds this claim's token.
func (g *ClaimGuard) Claim(ctx context.Context, key string) (func(), error) {
	claimKey := fmt.Sprintf("claim:%s", key)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, claimKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	release := func() {
		// The request context may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, g.rdb, []string{claimKey}, token).Err(); err != nil && err != redis.Nil {
			slog.Warn("claim: release failed", "key", key, "error", err)
		}
	}
	return release, nil
}
