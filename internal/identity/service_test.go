package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/config"
	"github.com/Extra-Chill/extrachill-users/internal/domain"
	"github.com/Extra-Chill/extrachill-users/internal/handoff"
	"github.com/Extra-Chill/extrachill-users/internal/oauth"
	"github.com/Extra-Chill/extrachill-users/internal/refresh"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

const (
	deviceA = "0199f1f6-0c8f-4f37-89ab-111111111111"
	deviceB = "0199f1f6-0c8f-4f37-89ab-222222222222"
)

type fakeUsers struct {
	mu         sync.Mutex
	seq        int64
	users      map[int64]domain.User
	passwords  map[int64]string
	members    map[int64]bool
	onboarding map[int64]bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:      make(map[int64]domain.User),
		passwords:  make(map[int64]string),
		members:    make(map[int64]bool),
		onboarding: make(map[int64]bool),
	}
}

func (f *fakeUsers) seed(username, email, password string, member bool) domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	user := domain.User{ID: f.seq, Username: username, Email: email}
	f.users[user.ID] = user
	f.passwords[user.ID] = password
	f.members[user.ID] = member
	return user
}

func (f *fakeUsers) GetByID(_ context.Context, userID int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		return user, nil
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUsers) GetByGoogleID(_ context.Context, googleID string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.GoogleID == googleID && googleID != "" {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUsers) Authenticate(_ context.Context, identifier, password string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.Username == identifier || strings.EqualFold(user.Email, identifier) {
			if f.passwords[id] == password {
				return user, nil
			}
			break
		}
	}
	return domain.User{}, domain.ErrInvalidCredentials
}

func (f *fakeUsers) Exists(_ context.Context, username, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username || strings.EqualFold(user.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsers) Create(_ context.Context, reg domain.Registration) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	user := domain.User{
		ID:          f.seq,
		Username:    reg.Username,
		Email:       reg.Email,
		DisplayName: reg.DisplayName,
	}
	f.users[user.ID] = user
	f.passwords[user.ID] = reg.Password
	f.members[user.ID] = true
	return user, nil
}

func (f *fakeUsers) LinkGoogleID(_ context.Context, userID int64, googleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.GoogleID = googleID
	f.users[userID] = user
	return nil
}

func (f *fakeUsers) setMember(userID int64, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = member
}

func (f *fakeUsers) IsCommunityMember(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[userID], nil
}

func (f *fakeUsers) MarkOnboardingPending(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onboarding[userID] = true
	return nil
}

type fakeRefreshRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{nextID: 1, rows: make(map[int64]*domain.RefreshToken)}
}

func (r *fakeRefreshRepo) Upsert(_ context.Context, record domain.RefreshToken) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == record.UserID && row.DeviceID == record.DeviceID {
			row.TokenHash = record.TokenHash
			row.ExpiresAt = record.ExpiresAt
			row.RevokedAt = nil
			return *row, nil
		}
	}
	record.ID = r.nextID
	r.nextID++
	r.rows[record.ID] = &record
	return record, nil
}

func (r *fakeRefreshRepo) GetByDeviceAndHash(_ context.Context, deviceID, tokenHash string) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.DeviceID == deviceID && row.TokenHash == tokenHash {
			return *row, nil
		}
	}
	return domain.RefreshToken{}, pgx.ErrNoRows
}

func (r *fakeRefreshRepo) Rotate(_ context.Context, id int64, oldHash, newHash string, lastUsedAt, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.TokenHash != oldHash {
		return false, nil
	}
	used := lastUsedAt
	row.TokenHash = newHash
	row.LastUsedAt = &used
	row.ExpiresAt = expiresAt
	return true, nil
}

func (r *fakeRefreshRepo) Revoke(_ context.Context, userID int64, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.DeviceID == deviceID && row.RevokedAt == nil {
			now := time.Now()
			row.RevokedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type memStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]byte)}
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *memStore) GetDel(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	delete(s.entries, key)
	return value, nil
}

type fakeCaptcha struct {
	pass bool
	err  error
}

func (f *fakeCaptcha) Verify(context.Context, string, string) (bool, error) {
	return f.pass, f.err
}

type fixture struct {
	users   *fakeUsers
	svc     *Service
	captcha *fakeCaptcha
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := newFakeUsers()
	tokens := token.NewService("identity-secret", 15*time.Minute, users)
	refreshSvc := refresh.NewService(newFakeRefreshRepo(), tokens, 30*24*time.Hour, 32, zap.NewNop())
	handoffSvc := handoff.NewService(newMemStore(), time.Minute, []string{"extrachill.com"})
	google := oauth.NewGoogleVerifier(oauth.GoogleConfig{}, nil)
	captcha := &fakeCaptcha{pass: true}
	events := NewEvents(zap.NewNop())
	cfg := config.Config{ProfileBaseURL: "https://community.extrachill.com/u"}

	svc := NewService(users, tokens, refreshSvc, google, handoffSvc, captcha, events, cfg, zap.NewNop())
	return &fixture{users: users, svc: svc, captcha: captcha}
}

func requireAuthCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	authErr, ok := err.(*AuthError)
	require.True(t, ok, "expected AuthError, got %v", err)
	require.Equal(t, code, authErr.Code)
	require.Equal(t, status, authErr.Status)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	resp, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   deviceA,
		DeviceName: "Pixel 9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "chill", resp.User.Username)
	require.Equal(t, "https://community.extrachill.com/u/chill", resp.User.ProfileURL)

	claims, err := f.svc.ValidateAccess(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, claims.UserID)
	require.Equal(t, deviceA, claims.DeviceID)
}

func TestLoginAcceptsEmailIdentifier(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill@extrachill.com",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	require.NoError(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "wrong",
		DeviceID:   deviceA,
	})
	requireAuthCode(t, err, "invalid_credentials", http.StatusUnauthorized)

	_, err = f.svc.Login(context.Background(), LoginInput{
		Identifier: "nobody",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	requireAuthCode(t, err, "invalid_credentials", http.StatusUnauthorized)
}

func TestLoginRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	f.users.seed("outsider", "out@example.com", "hunter2!", false)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "outsider",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	requireAuthCode(t, err, "extrachill_not_a_member", http.StatusForbidden)
}

func TestLoginRejectsBadDeviceID(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   "not-a-uuid",
	})
	requireAuthCode(t, err, "invalid_device_id", http.StatusBadRequest)
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Username:        "newfan",
		Email:           "newfan@example.com",
		Password:        "secret-pass",
		PasswordConfirm: "secret-pass",
		CaptchaResponse: "captcha-ok",
		DeviceID:        deviceA,
	}
}

func TestRegisterCreatesUser(t *testing.T) {
	f := newFixture(t)

	var registered []int64
	f.svc.events.OnUserRegistered(func(_ context.Context, user domain.User) error {
		registered = append(registered, user.ID)
		return nil
	})

	in := validRegistration()
	in.SuccessRedirect = "https://extrachill.com/welcome"
	resp, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "newfan", resp.User.Username)
	require.Equal(t, "https://extrachill.com/welcome", resp.RedirectURL)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	require.Len(t, registered, 1)
	require.True(t, f.users.onboarding[resp.User.ID])
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(*RegisterInput)
		code   string
	}{
		{"missing captcha", func(in *RegisterInput) { in.CaptchaResponse = "" }, "turnstile_required"},
		{"missing username", func(in *RegisterInput) { in.Username = "" }, "missing_fields"},
		{"missing email", func(in *RegisterInput) { in.Email = "" }, "missing_fields"},
		{"missing password", func(in *RegisterInput) { in.Password = ""; in.PasswordConfirm = "" }, "missing_fields"},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "invalid_email"},
		{"password mismatch", func(in *RegisterInput) { in.PasswordConfirm = "different" }, "password_mismatch"},
		{"join without role", func(in *RegisterInput) { in.FromJoin = true }, "join_flow_selection_required"},
		{"bad device", func(in *RegisterInput) { in.DeviceID = "nope" }, "invalid_device_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRegistration()
			tc.mutate(&in)
			_, err := f.svc.Register(context.Background(), in)
			requireAuthCode(t, err, tc.code, http.StatusBadRequest)
		})
	}
}

func TestRegisterRejectsFailedCaptcha(t *testing.T) {
	f := newFixture(t)
	f.captcha.pass = false

	_, err := f.svc.Register(context.Background(), validRegistration())
	requireAuthCode(t, err, "turnstile_failed", http.StatusBadRequest)

	f.captcha.pass = true
	f.captcha.err = fmt.Errorf("siteverify unreachable")
	_, err = f.svc.Register(context.Background(), validRegistration())
	requireAuthCode(t, err, "turnstile_failed", http.StatusBadRequest)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.users.seed("newfan", "newfan@example.com", "x", true)

	_, err := f.svc.Register(context.Background(), validRegistration())
	requireAuthCode(t, err, "user_exists", http.StatusConflict)
}

func TestRegisterAllowsJoinWithRole(t *testing.T) {
	f := newFixture(t)

	in := validRegistration()
	in.FromJoin = true
	in.IsArtist = true
	_, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	login, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	require.NotEmpty(t, refreshed.AccessToken)

	// The pre-rotation token is now dead.
	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	requireAuthCode(t, err, "invalid_refresh_token", http.StatusUnauthorized)
}

func TestRefreshKeepsTokenWhenMembershipLapses(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	login, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	require.NoError(t, err)

	f.users.setMember(user.ID, false)

	// A lapsed member is refused without the token being rotated away, so the
	// same 403 repeats instead of decaying into invalid_refresh_token.
	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	requireAuthCode(t, err, "extrachill_not_a_member", http.StatusForbidden)

	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	requireAuthCode(t, err, "extrachill_not_a_member", http.StatusForbidden)

	// Restoring membership makes the original token work again.
	f.users.setMember(user.ID, true)
	refreshed, err := f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
}

func TestRefreshRejectsWrongDevice(t *testing.T) {
	f := newFixture(t)
	f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	login, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, deviceB)
	requireAuthCode(t, err, "invalid_refresh_token", http.StatusUnauthorized)

	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, "bad-device")
	requireAuthCode(t, err, "invalid_device_id", http.StatusBadRequest)
}

func TestRevokeDeviceKillsRefreshToken(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	login, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "chill",
		Password:   "hunter2!",
		DeviceID:   deviceA,
	})
	require.NoError(t, err)

	revoked, err := f.svc.RevokeDevice(context.Background(), user.ID, deviceA)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = f.svc.Refresh(context.Background(), login.RefreshToken, deviceA)
	requireAuthCode(t, err, "invalid_refresh_token", http.StatusUnauthorized)
}

func TestHandoffRoundTrip(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	tok, err := f.svc.RequestHandoff(context.Background(), user.ID, "https://community.extrachill.com/u/chill")
	require.NoError(t, err)

	access, redirect, err := f.svc.RedeemHandoff(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "https://community.extrachill.com/u/chill", redirect)

	claims, err := f.svc.ValidateAccess(context.Background(), access.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)

	// Single use.
	_, _, err = f.svc.RedeemHandoff(context.Background(), tok)
	requireAuthCode(t, err, "invalid_handoff_token", http.StatusUnauthorized)
}

func TestRedeemHandoffRejectsDisallowedRedirect(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed("chill", "chill@extrachill.com", "hunter2!", true)

	tok, err := f.svc.RequestHandoff(context.Background(), user.ID, "https://extrachill.com.evil.com/steal")
	require.NoError(t, err)

	_, _, err = f.svc.RedeemHandoff(context.Background(), tok)
	requireAuthCode(t, err, "invalid_redirect", http.StatusBadRequest)
}

func TestRequestHandoffRequiresRedirect(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestHandoff(context.Background(), 1, "  ")
	requireAuthCode(t, err, "invalid_request", http.StatusBadRequest)
}

func TestResolveGoogleUser(t *testing.T) {
	f := newFixture(t)

	t.Run("existing linked account", func(t *testing.T) {
		seeded := f.users.seed("linked", "linked@example.com", "x", true)
		require.NoError(t, f.users.LinkGoogleID(context.Background(), seeded.ID, "goog-1"))

		user, created, err := f.svc.resolveGoogleUser(context.Background(), &oauth.Identity{
			Subject: "goog-1",
			Email:   "linked@example.com",
		}, false)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, seeded.ID, user.ID)
	})

	t.Run("auto-link by email", func(t *testing.T) {
		seeded := f.users.seed("emailonly", "emailonly@example.com", "x", true)

		user, created, err := f.svc.resolveGoogleUser(context.Background(), &oauth.Identity{
			Subject: "goog-2",
			Email:   "emailonly@example.com",
		}, false)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, seeded.ID, user.ID)

		linked, err := f.users.GetByGoogleID(context.Background(), "goog-2")
		require.NoError(t, err)
		require.Equal(t, seeded.ID, linked.ID)
	})

	t.Run("create fresh account", func(t *testing.T) {
		user, created, err := f.svc.resolveGoogleUser(context.Background(), &oauth.Identity{
			Subject: "goog-3",
			Email:   "fresh@example.com",
			Name:    "Fresh Fan",
		}, true)
		require.NoError(t, err)
		require.True(t, created)
		require.True(t, strings.HasPrefix(user.Username, "fresh-fan-"))
		require.True(t, f.users.onboarding[user.ID])

		linked, err := f.users.GetByGoogleID(context.Background(), "goog-3")
		require.NoError(t, err)
		require.Equal(t, user.ID, linked.ID)
	})
}

func TestProfileFallsBackToUsername(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed("plain", "plain@example.com", "x", true)

	profile, err := f.svc.Profile(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "plain", profile.DisplayName)
	require.Equal(t, "https://community.extrachill.com/u/plain", profile.ProfileURL)
}
