// Package identity ties the token, refresh, OAuth, and handoff layers into
// the login, registration, and refresh flows.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/config"
	"github.com/Extra-Chill/extrachill-users/internal/domain"
	"github.com/Extra-Chill/extrachill-users/internal/handoff"
	"github.com/Extra-Chill/extrachill-users/internal/oauth"
	"github.com/Extra-Chill/extrachill-users/internal/refresh"
	"github.com/Extra-Chill/extrachill-users/internal/repository"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

// AuthError carries a stable error code and HTTP status across the service
// boundary.
type AuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newAuthError(code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status}
}

// CaptchaVerifier is the external challenge collaborator guarding signup.
type CaptchaVerifier interface {
	Verify(ctx context.Context, response, remoteIP string) (bool, error)
}

// UserProfile is the public user shape returned with every token pair.
type UserProfile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	ProfileURL  string `json:"profile_url"`
}

// AuthResponse is the uniform response shape shared by login, registration,
// OAuth login, and refresh.
type AuthResponse struct {
	AccessToken      string      `json:"access_token"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshToken     string      `json:"refresh_token"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	User             UserProfile `json:"user"`
	RedirectURL      string      `json:"redirect_url,omitempty"`
}

// LoginInput is the password login request.
type LoginInput struct {
	Identifier string
	Password   string
	DeviceID   string
	DeviceName string
}

// RegisterInput is the signup request.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	CaptchaResponse string
	RemoteIP        string
	DeviceID        string
	DeviceName      string
	FromJoin        bool
	IsArtist        bool
	IsProfessional  bool
	SuccessRedirect string
}

// GoogleLoginInput is the OAuth login request.
type GoogleLoginInput struct {
	IDToken         string
	DeviceID        string
	DeviceName      string
	FromJoin        bool
	SuccessRedirect string
}

// Service orchestrates identity flows on top of the external user store.
type Service struct {
	users   repository.UserStore
	tokens  *token.Service
	refresh *refresh.Service
	google  *oauth.GoogleVerifier
	handoff *handoff.Service
	captcha CaptchaVerifier
	events  *Events
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewService wires dependencies.
func NewService(
	users repository.UserStore,
	tokens *token.Service,
	refreshSvc *refresh.Service,
	google *oauth.GoogleVerifier,
	handoffSvc *handoff.Service,
	captcha CaptchaVerifier,
	events *Events,
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		refresh: refreshSvc,
		google:  google,
		handoff: handoffSvc,
		captcha: captcha,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/Extra-Chill/extrachill-users/internal/identity"),
	}
}

// Login authenticates with username/email and password, checks community
// membership, and issues a token pair.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "identity.Login")
	defer span.End()

	if !token.IsUUIDv4(in.DeviceID) {
		return nil, newAuthError("invalid_device_id", "device_id must be a UUID v4.", http.StatusBadRequest)
	}

	user, err := s.users.Authenticate(ctx, strings.TrimSpace(in.Identifier), in.Password)
	if err != nil {
		span.RecordError(err)
		return nil, newAuthError("invalid_credentials", "Invalid username or password.", http.StatusUnauthorized)
	}

	if err := s.requireMembership(ctx, user.ID); err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, user, in.DeviceID, in.DeviceName)
	if err == nil {
		s.audit("password.login.success", user.ID, in.DeviceID)
	}
	return resp, err
}

// Register validates the signup, creates the account through the user store,
// fires registration handlers, and issues a token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "identity.Register")
	defer span.End()

	if strings.TrimSpace(in.CaptchaResponse) == "" {
		return nil, newAuthError("turnstile_required", "Captcha verification required.", http.StatusBadRequest)
	}
	passed, err := s.captcha.Verify(ctx, in.CaptchaResponse, in.RemoteIP)
	if err != nil || !passed {
		return nil, newAuthError("turnstile_failed", "Captcha verification failed.", http.StatusBadRequest)
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" || email == "" || in.Password == "" || in.PasswordConfirm == "" {
		return nil, newAuthError("missing_fields", "username, email, password, and password_confirm are required.", http.StatusBadRequest)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, newAuthError("invalid_email", "Email address is not valid.", http.StatusBadRequest)
	}
	if in.Password != in.PasswordConfirm {
		return nil, newAuthError("password_mismatch", "Passwords do not match.", http.StatusBadRequest)
	}
	if in.FromJoin && !in.IsArtist && !in.IsProfessional {
		return nil, newAuthError("join_flow_selection_required", "Select a musician or industry role to continue.", http.StatusBadRequest)
	}
	if !token.IsUUIDv4(in.DeviceID) {
		return nil, newAuthError("invalid_device_id", "device_id must be a UUID v4.", http.StatusBadRequest)
	}

	exists, err := s.users.Exists(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("registration uniqueness check: %w", err)
	}
	if exists {
		return nil, newAuthError("user_exists", "An account already exists with this username or email.", http.StatusConflict)
	}

	user, err := s.users.Create(ctx, domain.Registration{
		Username:       username,
		Email:          email,
		Password:       in.Password,
		IsArtist:       in.IsArtist,
		IsProfessional: in.IsProfessional,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.users.MarkOnboardingPending(ctx, user.ID); err != nil {
		s.logger.Warn("mark onboarding failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	s.events.emitUserRegistered(ctx, user)

	resp, err := s.issueTokens(ctx, user, in.DeviceID, in.DeviceName)
	if err != nil {
		return nil, err
	}
	resp.RedirectURL = strings.TrimSpace(in.SuccessRedirect)
	s.audit("register.success", user.ID, in.DeviceID)
	return resp, nil
}

// GoogleLogin verifies a Google ID token, then finds the linked account,
// auto-links by email, or creates a fresh one.
func (s *Service) GoogleLogin(ctx context.Context, in GoogleLoginInput) (*AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "identity.GoogleLogin")
	defer span.End()

	if !token.IsUUIDv4(in.DeviceID) {
		return nil, newAuthError("invalid_device_id", "device_id must be a UUID v4.", http.StatusBadRequest)
	}

	ident, err := s.google.VerifyIDToken(ctx, in.IDToken)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, oauth.ErrNotConfigured) {
			return nil, newAuthError("google_not_configured", "Google Sign-In is not configured.", http.StatusInternalServerError)
		}
		return nil, newAuthError("invalid_google_token", "Google token verification failed.", http.StatusUnauthorized)
	}

	user, created, err := s.resolveGoogleUser(ctx, ident, in.FromJoin)
	if err != nil {
		return nil, err
	}
	if created {
		s.events.emitUserRegistered(ctx, user)
	}

	resp, err := s.issueTokens(ctx, user, in.DeviceID, in.DeviceName)
	if err != nil {
		return nil, err
	}
	resp.RedirectURL = strings.TrimSpace(in.SuccessRedirect)
	s.audit("google.login.success", user.ID, in.DeviceID)
	return resp, nil
}

// Refresh rotates the presented refresh token and mints a fresh access token.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken, deviceID string) (*AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "identity.Refresh")
	defer span.End()

	if !token.IsUUIDv4(deviceID) {
		return nil, newAuthError("invalid_device_id", "device_id must be a UUID v4.", http.StatusBadRequest)
	}

	// Account checks run before the rotation commit so a rejected caller
	// keeps a usable token and can retry once the account state clears.
	userID, err := s.refresh.Validate(ctx, rawRefreshToken, deviceID)
	if err != nil {
		span.RecordError(err)
		return nil, mapRefreshError(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("refresh load user: %w", err)
	}
	if err := s.requireMembership(ctx, user.ID); err != nil {
		return nil, err
	}

	_, issued, err := s.refresh.Rotate(ctx, rawRefreshToken, deviceID)
	if err != nil {
		span.RecordError(err)
		return nil, mapRefreshError(err)
	}

	access := s.tokens.Generate(user.ID, deviceID)
	s.audit("refresh_token.success", user.ID, deviceID)
	return s.buildResponse(user, access, issued), nil
}

// RevokeDevice logs the device out by revoking its refresh token.
func (s *Service) RevokeDevice(ctx context.Context, userID int64, deviceID string) (bool, error) {
	if !token.IsUUIDv4(deviceID) {
		return false, newAuthError("invalid_device_id", "device_id must be a UUID v4.", http.StatusBadRequest)
	}
	return s.refresh.Revoke(ctx, userID, deviceID)
}

// RequestHandoff creates a one-time browser handoff token for the user.
func (s *Service) RequestHandoff(ctx context.Context, userID int64, redirectURL string) (string, error) {
	if strings.TrimSpace(redirectURL) == "" {
		return "", newAuthError("invalid_request", "redirect_url is required.", http.StatusBadRequest)
	}
	handoffToken, err := s.handoff.Create(ctx, userID, redirectURL)
	if err != nil {
		return "", err
	}
	s.audit("browser_handoff.created", userID, "")
	return handoffToken, nil
}

// RedeemHandoff consumes a one-time handoff token, checks the stored redirect
// against the domain allow-list, and mints a browser session token. The
// returned redirect is the destination the caller should send the browser to.
func (s *Service) RedeemHandoff(ctx context.Context, handoffToken string) (token.AccessToken, string, error) {
	ctx, span := s.startSpan(ctx, "identity.RedeemHandoff")
	defer span.End()

	payload, err := s.handoff.Consume(ctx, handoffToken)
	if err != nil {
		span.RecordError(err)
		return token.AccessToken{}, "", newAuthError("invalid_handoff_token", "Handoff token is invalid or already used.", http.StatusUnauthorized)
	}
	if !s.handoff.AllowedRedirect(payload.RedirectURL) {
		return token.AccessToken{}, "", newAuthError("invalid_redirect", "Redirect target is not allowed.", http.StatusBadRequest)
	}

	user, err := s.users.GetByID(ctx, payload.UserID)
	if err != nil {
		span.RecordError(err)
		return token.AccessToken{}, "", newAuthError("invalid_handoff_token", "Handoff token is invalid or already used.", http.StatusUnauthorized)
	}

	// The browser gets its own device identity; the app's refresh token for
	// the originating device is untouched.
	access := s.tokens.Generate(user.ID, uuid.NewString())
	s.audit("browser_handoff.redeemed", user.ID, "")
	return access, payload.RedirectURL, nil
}

// ValidateAccess exposes access-token validation to transport middleware.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (*domain.AccessClaims, error) {
	return s.tokens.Validate(ctx, accessToken)
}

// Profile returns the public profile for an authenticated user id.
func (s *Service) Profile(ctx context.Context, userID int64) (UserProfile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserProfile{}, fmt.Errorf("load user: %w", err)
	}
	return s.profile(user), nil
}

func (s *Service) resolveGoogleUser(ctx context.Context, ident *oauth.Identity, fromJoin bool) (domain.User, bool, error) {
	if user, err := s.users.GetByGoogleID(ctx, ident.Subject); err == nil {
		return user, false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, fmt.Errorf("lookup by google id: %w", err)
	}

	if user, err := s.users.GetByEmail(ctx, ident.Email); err == nil {
		// Auto-link: same verified email means same person.
		if err := s.users.LinkGoogleID(ctx, user.ID, ident.Subject); err != nil {
			return domain.User{}, false, err
		}
		return user, false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, fmt.Errorf("lookup by email: %w", err)
	}

	password, err := token.NewOpaqueToken(24)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("generate password: %w", err)
	}
	user, err := s.users.Create(ctx, domain.Registration{
		Username:    usernameFromIdentity(ident),
		Email:       ident.Email,
		Password:    password,
		DisplayName: ident.Name,
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("create oauth user: %w", err)
	}
	if err := s.users.LinkGoogleID(ctx, user.ID, ident.Subject); err != nil {
		return domain.User{}, false, err
	}
	if err := s.users.MarkOnboardingPending(ctx, user.ID); err != nil {
		s.logger.Warn("mark onboarding failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	if fromJoin {
		s.audit("google.join_flow", user.ID, "")
	}
	return user, true, nil
}

func mapRefreshError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRefreshToken):
		return newAuthError("invalid_refresh_token", "Invalid refresh token.", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrRefreshTokenExpired):
		return newAuthError("refresh_token_expired", "Refresh token has expired.", http.StatusUnauthorized)
	}
	return err
}

func (s *Service) requireMembership(ctx context.Context, userID int64) error {
	member, err := s.users.IsCommunityMember(ctx, userID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return newAuthError("extrachill_not_a_member", "User is not a member of the community site.", http.StatusForbidden)
	}
	return nil
}

func (s *Service) issueTokens(ctx context.Context, user domain.User, deviceID, deviceName string) (*AuthResponse, error) {
	access := s.tokens.Generate(user.ID, deviceID)
	issued, err := s.refresh.Issue(ctx, user.ID, deviceID, deviceName)
	if err != nil {
		return nil, err
	}
	return s.buildResponse(user, access, issued), nil
}

func (s *Service) buildResponse(user domain.User, access token.AccessToken, issued refresh.Issued) *AuthResponse {
	return &AuthResponse{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     issued.Token,
		RefreshExpiresAt: issued.ExpiresAt,
		User:             s.profile(user),
	}
}

func (s *Service) profile(user domain.User) UserProfile {
	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Username
	}
	return UserProfile{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: displayName,
		AvatarURL:   user.AvatarURL,
		ProfileURL:  fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.ProfileBaseURL, "/"), user.Username),
	}
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *Service) audit(event string, userID int64, deviceID string) {
	logger := s.logger
	if logger == nil {
		logger = zap.L()
	}
	fields := []zap.Field{
		zap.String("event", event),
		zap.Int64("user_id", userID),
	}
	if deviceID != "" {
		fields = append(fields, zap.String("device_id", deviceID))
	}
	logger.Info("audit", fields...)
}

func usernameFromIdentity(ident *oauth.Identity) string {
	base := strings.ToLower(strings.TrimSpace(ident.Name))
	if base == "" {
		if at := strings.Index(ident.Email, "@"); at > 0 {
			base = strings.ToLower(ident.Email[:at])
		}
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	username := strings.Trim(b.String(), "-")
	if username == "" {
		username = "user"
	}
	// Suffix keeps generated usernames unique enough; the store's uniqueness
	// constraint is the real guard.
	suffix, _ := token.NewOpaqueToken(4)
	return username + "-" + strings.ToLower(suffix[:6])
}
