package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
)

const (
	otpKeyPrefix      = "loan:otp:"
	otpAttemptsPrefix = "loan:otp-attempts:"
)

// verifyScript consumes the code when it matches and counts misses. The code
// is burned once maxAttempts misses are reached.
//
// KEYS[1] code, KEYS[2] attempts. ARGV[1] candidate, ARGV[2] maxAttempts,
// ARGV[3] attempts ttl in ms.
// Returns 1 match, 0 miss, -1 no code, -2 burned.
var verifyScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if not stored then
	return -1
end
if stored == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
local misses = redis.call("INCR", KEYS[2])
if misses == 1 then
	redis.call("PEXPIRE", KEYS[2], ARGV[3])
end
if misses >= tonumber(ARGV[2]) then
	redis.call("DEL", KEYS[1], KEYS[2])
	return -2
end
return 0
`)

// OTPVerifier issues and checks one-time codes for a mobile number.
type OTPVerifier interface {
	Send(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) error
}

// SMSSender delivers a code; *notify.Notifier implements it.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// StaticOTP accepts one fixed code. Used for local development.
type StaticOTP struct {
	code   string
	logger logger.Logger
}

func NewStaticOTP(code string, log logger.Logger) *StaticOTP {
	return &StaticOTP{code: code, logger: log}
}

func (s *StaticOTP) Send(_ context.Context, phone string) error {
	s.logger.Info("Static OTP issued", map[string]interface{}{"phone": maskPhone(phone)})
	return nil
}

func (s *StaticOTP) Verify(_ context.Context, _ string, code string) error {
	if s.code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		return errors.NewAuthenticationError("invalid verification code")
	}
	return nil
}

// RedisOTP stores a random code per number with a TTL and texts it. A code
// allows maxAttempts wrong guesses before it is discarded.
type RedisOTP struct {
	client      redis.Cmdable
	sender      SMSSender
	ttl         time.Duration
	maxAttempts int
	logger      logger.Logger
}

func NewRedisOTP(client redis.Cmdable, sender SMSSender, ttl time.Duration, maxAttempts int, log logger.Logger) *RedisOTP {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RedisOTP{client: client, sender: sender, ttl: ttl, maxAttempts: maxAttempts, logger: log}
}

func (r *RedisOTP) Send(ctx context.Context, phone string) error {
	code, err := randomCode(6)
	if err != nil {
		return errors.NewInternalError(err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, otpKeyPrefix+phone, code, r.ttl)
		pipe.Del(ctx, otpAttemptsPrefix+phone)
		return nil
	})
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	if err := r.sender.SendOTP(ctx, phone, code); err != nil {
		r.client.Del(ctx, otpKeyPrefix+phone)
		return err
	}
	r.logger.Info("OTP sent", map[string]interface{}{"phone": maskPhone(phone)})
	return nil
}

// Verify consumes the stored code. A code can be used once, and concurrent
// verifies of the same code let exactly one through.
func (r *RedisOTP) Verify(ctx context.Context, phone, code string) error {
	keys := []string{otpKeyPrefix + phone, otpAttemptsPrefix + phone}
	result, err := verifyScript.Run(ctx, r.client, keys, code, r.maxAttempts, r.ttl.Milliseconds()).Int()
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return errors.NewAuthenticationError("verification code expired or never sent")
	case -2:
		r.logger.Warn("OTP discarded after repeated misses", map[string]interface{}{"phone": maskPhone(phone)})
		return errors.NewAuthenticationError("too many wrong codes, request a new one")
	default:
		return errors.NewAuthenticationError("invalid verification code")
	}
}

func randomCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
