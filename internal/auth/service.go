// Package auth registers users, verifies their mobile number and issues
// bearer tokens.
package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/registry"
)

const minPasswordLength = 8

type RegisterRequest struct {
	Mobile     string                 `json:"mobile"`
	Password   string                 `json:"password"`
	Name       string                 `json:"name"`
	NationalID string                 `json:"icNumber"`
	Country    country.Code           `json:"country"`
	Role       models.Role            `json:"role"`
	Company    *models.CompanyProfile `json:"companyProfile,omitempty"`
}

// Session is returned on successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type Service struct {
	store     registry.Store
	tokens    *TokenIssuer
	otp       OTPVerifier
	countries *country.Table
	logger    logger.Logger
}

func NewService(store registry.Store, tokens *TokenIssuer, otp OTPVerifier, countries *country.Table, log logger.Logger) *Service {
	return &Service{
		store:     store,
		tokens:    tokens,
		otp:       otp,
		countries: countries,
		logger:    log.WithFields(map[string]interface{}{"component": "auth"}),
	}
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.NewInternalError(err)
	}
	return string(hashed), nil
}

// Register creates an unverified user and sends an OTP to their number.
// Admin accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Mobile = strings.TrimSpace(req.Mobile)
	req.Name = strings.TrimSpace(req.Name)
	if req.Role == "" {
		req.Role = models.RoleBorrower
	}

	switch {
	case !validation.ValidateMobile(req.Mobile):
		return nil, errors.NewInvalidInputError("mobile number is invalid")
	case len(req.Password) < minPasswordLength:
		return nil, errors.NewInvalidInputError("password must be at least 8 characters")
	case req.Name == "":
		return nil, errors.NewInvalidInputError("name is required")
	case !req.Role.Valid() || req.Role == models.RoleAdmin:
		return nil, errors.NewInvalidInputError("role " + string(req.Role) + " cannot be registered")
	case req.Role == models.RoleCorporateAgent && (req.Company == nil || req.Company.Name == "" || req.Company.RegistrationNumber == ""):
		return nil, errors.NewInvalidInputError("corporate agents need a company name and registration number")
	}
	c, ok := s.countries.Lookup(req.Country)
	if !ok {
		return nil, errors.NewInvalidInputError("unsupported country " + string(req.Country))
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.InsertUser(ctx, &models.User{
		Mobile:       req.Mobile,
		NationalID:   strings.TrimSpace(req.NationalID),
		Name:         req.Name,
		Country:      c.Code,
		Role:         req.Role,
		PasswordHash: hash,
		Company:      req.Company,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", map[string]interface{}{
		"userId":  user.ID,
		"role":    string(user.Role),
		"country": string(user.Country),
	})
	if err := s.otp.Send(ctx, c.InternationalNumber(user.Mobile)); err != nil {
		s.logger.Warn("Failed to send OTP after registration", map[string]interface{}{
			"userId": user.ID,
			"error":  err.Error(),
		})
	}
	return user, nil
}

// SendOTP re-sends a code to a registered number.
func (s *Service) SendOTP(ctx context.Context, mobile string) error {
	user, err := s.store.FindUserByMobile(ctx, strings.TrimSpace(mobile))
	if err != nil {
		return err
	}
	return s.otp.Send(ctx, s.phoneOf(user))
}

// VerifyOTP marks the user verified and logs them in.
func (s *Service) VerifyOTP(ctx context.Context, mobile, code string) (*Session, error) {
	user, err := s.store.FindUserByMobile(ctx, strings.TrimSpace(mobile))
	if err != nil {
		return nil, err
	}
	if err := s.otp.Verify(ctx, s.phoneOf(user), strings.TrimSpace(code)); err != nil {
		return nil, err
	}
	if !user.Verified {
		user, err = s.store.UpdateUser(ctx, user.ID, func(u *models.User) error {
			u.Verified = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s.session(user)
}

// Login checks the password of a verified user.
func (s *Service) Login(ctx context.Context, mobile, password string) (*Session, error) {
	user, err := s.store.FindUserByMobile(ctx, strings.TrimSpace(mobile))
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.NewAuthenticationError("invalid mobile or password")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.Warn("Login failed", map[string]interface{}{"userId": user.ID})
		return nil, errors.NewAuthenticationError("invalid mobile or password")
	}
	if !user.Verified {
		return nil, errors.NewAuthenticationError("mobile number not verified")
	}
	return s.session(user)
}

// Authenticate resolves a bearer token to an actor.
func (s *Service) Authenticate(token string) (models.Actor, error) {
	return s.tokens.Parse(token)
}

// EnsureAdmin creates the configured admin account when it does not exist.
func (s *Service) EnsureAdmin(ctx context.Context, mobile, password string, code country.Code) (*models.User, error) {
	if mobile == "" || password == "" {
		return nil, errors.NewInvalidInputError("admin mobile and password are required")
	}
	existing, err := s.store.FindUserByMobile(ctx, mobile)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			return nil, errors.NewDuplicateIDError("user", mobile)
		}
		return existing, nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	admin, err := s.store.InsertUser(ctx, &models.User{
		Mobile:       mobile,
		Name:         "Administrator",
		Country:      code,
		Role:         models.RoleAdmin,
		Verified:     true,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Admin account created", map[string]interface{}{"userId": admin.ID})
	return admin, nil
}

func (s *Service) session(user *models.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func (s *Service) phoneOf(user *models.User) string {
	if c, ok := s.countries.Lookup(user.Country); ok {
		return c.InternationalNumber(user.Mobile)
	}
	return user.Mobile
}
