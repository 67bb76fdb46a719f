package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"loyalty-checkin/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sequence",
	fx.Provide(NewGenerator),
)

const CouponPrefix = "CPN"

type Generator interface {
	NextCouponCode(ctx context.Context) (string, error)
}

type Params struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func NewGenerator(p Params) Generator {
	if p.Redis == nil {
		return RandomGenerator{}
	}
	return &RedisGenerator{rdb: p.Redis}
}

// RedisGenerator issues CPN-yyMMdd-SEQXXXX codes from a daily INCR counter.
type RedisGenerator struct {
	rdb *redis.Client
}

func (g *RedisGenerator) NextCouponCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, CouponPrefix)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := time.Now().UTC()
	today := now.Format("060102")
	key := rediskey.BuildDailySequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("coupon sequence unavailable, using random code", zap.Error(err))
		return RandomGenerator{}.NextCouponCode(ctx)
	}

	if seq == 1 {
		_ = g.rdb.ExpireAt(ctx, key, now.Truncate(24*time.Hour).Add(48*time.Hour)).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	// random tail keeps codes from being guessable from the sequence
	randSuffix, err := randomAlphaNumeric(4)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

// RandomGenerator is used when redis is not configured. Collisions are caught
// by the unique index on coupons.unique_code.
type RandomGenerator struct{}

func (RandomGenerator) NextCouponCode(ctx context.Context) (string, error) {
	tail, err := randomAlphaNumeric(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", CouponPrefix, time.Now().UTC().Format("060102"), tail), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
