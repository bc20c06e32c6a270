package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/registry"
)

// capturingSender keeps the last code per phone.
type capturingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *capturingSender) SendOTP(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[phone] = code
	return nil
}

func (c *capturingSender) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

func newRedisOTP(t *testing.T) (*RedisOTP, *miniredis.Miniredis, *capturingSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sender := &capturingSender{}
	return NewRedisOTP(client, sender, time.Minute, 3, logger.NewTestLogger(t)), mr, sender
}

func newService(t *testing.T, otp OTPVerifier) (*Service, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	return NewService(store, NewTokenIssuer("test-secret", time.Hour), otp, country.Default(), logger.NewTestLogger(t)), store
}

func borrowerRequest() RegisterRequest {
	return RegisterRequest{
		Mobile:     "0123456789",
		Password:   "correct-horse",
		Name:       "Aisyah binti Ali",
		NationalID: "900101-14-5678",
		Country:    country.Malaysia,
	}
}

// ==========================
// Token Tests
// ==========================

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", 30*time.Minute)
	token, expires, err := issuer.Issue(&models.User{ID: "user-1", Role: models.RoleCorporateAgent})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expires, 5*time.Second)

	actor, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{UserID: "user-1", Role: models.RoleCorporateAgent}, actor)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	token, _, err := issuer.Issue(&models.User{ID: "user-1", Role: models.RoleBorrower})
	require.NoError(t, err)

	_, err = NewTokenIssuer("other-secret", time.Minute).Parse(token)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed), "wrong secret")

	expired := NewTokenIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Parse(token)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed), "expired")

	_, err = issuer.Parse("not-a-token")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))

	system, _, err := issuer.Issue(&models.User{ID: "x", Role: models.RoleSystem})
	require.NoError(t, err)
	_, err = issuer.Parse(system)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed), "system role is never issued to callers")
}

// ==========================
// OTP Tests
// ==========================

func TestStaticOTP(t *testing.T) {
	otp := NewStaticOTP("123456", logger.NewNoOpLogger())
	require.NoError(t, otp.Send(context.Background(), "+60123456789"))
	assert.NoError(t, otp.Verify(context.Background(), "+60123456789", "123456"))
	assert.True(t, errors.IsCode(otp.Verify(context.Background(), "+60123456789", "000000"), errors.ErrCodeAuthenticationFailed))
}

func TestRedisOTP_SendAndVerifyOnce(t *testing.T) {
	otp, mr, sender := newRedisOTP(t)
	ctx := context.Background()

	require.NoError(t, otp.Send(ctx, "+6591234567"))
	code := sender.code("+6591234567")
	assert.Len(t, code, 6)
	assert.True(t, mr.Exists(otpKeyPrefix+"+6591234567"))

	assert.True(t, errors.IsCode(otp.Verify(ctx, "+6591234567", "wrong!"), errors.ErrCodeAuthenticationFailed))
	require.NoError(t, otp.Verify(ctx, "+6591234567", code))
	assert.True(t, errors.IsCode(otp.Verify(ctx, "+6591234567", code), errors.ErrCodeAuthenticationFailed), "codes are single use")
}

func TestRedisOTP_Expires(t *testing.T) {
	otp, mr, sender := newRedisOTP(t)
	require.NoError(t, otp.Send(context.Background(), "+6591234567"))
	mr.FastForward(2 * time.Minute)

	err := otp.Verify(context.Background(), "+6591234567", sender.code("+6591234567"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
}

func TestRedisOTP_ConcurrentVerifyAcceptsOnce(t *testing.T) {
	otp, _, sender := newRedisOTP(t)
	ctx := context.Background()
	require.NoError(t, otp.Send(ctx, "+6591234567"))
	code := sender.code("+6591234567")

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if otp.Verify(ctx, "+6591234567", code) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
}

func TestRedisOTP_WrongGuessesDiscardCode(t *testing.T) {
	otp, mr, sender := newRedisOTP(t)
	ctx := context.Background()
	require.NoError(t, otp.Send(ctx, "+6591234567"))
	code := sender.code("+6591234567")

	for i := 0; i < 3; i++ {
		err := otp.Verify(ctx, "+6591234567", "wrong!")
		assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
	}
	assert.False(t, mr.Exists(otpKeyPrefix+"+6591234567"))

	err := otp.Verify(ctx, "+6591234567", code)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed), "the real code no longer works")

	require.NoError(t, otp.Send(ctx, "+6591234567"))
	assert.False(t, mr.Exists(otpAttemptsPrefix+"+6591234567"))
	assert.NoError(t, otp.Verify(ctx, "+6591234567", sender.code("+6591234567")))
}

func TestRedisOTP_SendFailureDropsCode(t *testing.T) {
	otp, mr, sender := newRedisOTP(t)
	sender.err = errors.NewNotificationSendFailedError("sms", nil)

	err := otp.Send(context.Background(), "+6591234567")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotificationSendFailed))
	assert.False(t, mr.Exists(otpKeyPrefix+"+6591234567"))
}

// ==========================
// Service Tests
// ==========================

func TestService_RegisterVerifyLogin(t *testing.T) {
	otp, _, sender := newRedisOTP(t)
	svc, _ := newService(t, otp)
	ctx := context.Background()

	user, err := svc.Register(ctx, borrowerRequest())
	require.NoError(t, err)
	assert.False(t, user.Verified)
	assert.Equal(t, models.RoleBorrower, user.Role)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	_, err = svc.Login(ctx, "0123456789", "correct-horse")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed), "unverified users cannot log in")

	code := sender.code("+60123456789")
	require.NotEmpty(t, code)
	session, err := svc.VerifyOTP(ctx, "0123456789", code)
	require.NoError(t, err)
	assert.True(t, session.User.Verified)

	session, err = svc.Login(ctx, "0123456789", "correct-horse")
	require.NoError(t, err)
	actor, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, actor.UserID)

	_, err = svc.Login(ctx, "0123456789", "wrong-password")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
	_, err = svc.Login(ctx, "0199999999", "correct-horse")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newService(t, NewStaticOTP("123456", logger.NewNoOpLogger()))

	tests := []struct {
		name   string
		mutate func(r *RegisterRequest)
	}{
		{"bad mobile", func(r *RegisterRequest) { r.Mobile = "12" }},
		{"short password", func(r *RegisterRequest) { r.Password = "short" }},
		{"missing name", func(r *RegisterRequest) { r.Name = " " }},
		{"admin role", func(r *RegisterRequest) { r.Role = models.RoleAdmin }},
		{"system role", func(r *RegisterRequest) { r.Role = models.RoleSystem }},
		{"unknown country", func(r *RegisterRequest) { r.Country = "US" }},
		{"company agent without company", func(r *RegisterRequest) { r.Role = models.RoleCorporateAgent }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := borrowerRequest()
			tt.mutate(&req)
			_, err := svc.Register(context.Background(), req)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput), "got %v", err)
		})
	}
}

func TestService_RegisterCorporateAgentAndDuplicate(t *testing.T) {
	svc, _ := newService(t, NewStaticOTP("123456", logger.NewNoOpLogger()))
	req := borrowerRequest()
	req.Role = models.RoleCorporateAgent
	req.Company = &models.CompanyProfile{Name: "Acme Credit", RegistrationNumber: "202301000123"}

	user, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Acme Credit", user.Company.Name)

	_, err = svc.Register(context.Background(), req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateID))
}

func TestService_EnsureAdminIsIdempotent(t *testing.T) {
	svc, _ := newService(t, NewStaticOTP("123456", logger.NewNoOpLogger()))
	ctx := context.Background()

	first, err := svc.EnsureAdmin(ctx, "0000000000", "admin-password", country.Singapore)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, first.Role)
	assert.True(t, first.Verified)

	second, err := svc.EnsureAdmin(ctx, "0000000000", "admin-password", country.Singapore)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	session, err := svc.Login(ctx, "0000000000", "admin-password")
	require.NoError(t, err)
	actor, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin())

	_, err = svc.EnsureAdmin(ctx, "", "", country.Singapore)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}
