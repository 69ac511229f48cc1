package app

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"exammate/pkg/auth"
	"exammate/pkg/domain"
	"exammate/pkg/store"
)

const strongPassword = "Str0ng!Password"

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(Config{
		Store:         store.NewMemoryStore(),
		Sessions:      newTestSessionStore(t),
		RefreshTokens: store.NewMemoryRefreshTokenStore(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func newTestSessionStore(t *testing.T) store.SessionStore {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "jwt-private.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	sessions, err := store.NewJWTSessionStoreFromPEM(
		privatePath,
		"",
		"jwt-test",
		nil,
		time.Minute,
		store.NewMemoryTokenRevoker(),
		store.JWTOptions{},
	)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return sessions
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{name: "bare ten digits get indian prefix", input: "9876543210", want: "+919876543210"},
		{name: "spaces and dashes stripped", input: "98765 432-10", want: "+919876543210"},
		{name: "international passes through", input: "+14155552671", want: "+14155552671"},
		{name: "empty", input: "  ", err: ErrPhoneRequired},
		{name: "too short", input: "98765", err: ErrInvalidPhone},
		{name: "letters rejected", input: "+91abcdefghij", err: ErrInvalidPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.input)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("normalize %q: got err %v, want %v", tc.input, err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize %q: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("normalize %q = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestLoginByPhoneProvisionsAccount(t *testing.T) {
	a := newTestApp(t)

	user, access, refresh, err := a.LoginByPhone("9876543210")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if user.Phone != "+919876543210" {
		t.Fatalf("phone = %q, want normalized number", user.Phone)
	}
	if user.Role != domain.RoleUser {
		t.Fatalf("role = %q, want user", user.Role)
	}
	if access == "" || refresh == "" {
		t.Fatal("expected access and refresh tokens")
	}

	again, _, _, err := a.LoginByPhone("+919876543210")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("second login created a new account: %q vs %q", again.ID, user.ID)
	}
}

func TestLoginByPhoneRejectsDisabledAccount(t *testing.T) {
	a := newTestApp(t)
	user, _, _, err := a.LoginByPhone("9876543210")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	user.Status = domain.StatusDisabled
	if err := a.store.SaveUser(user); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if _, _, _, err := a.LoginByPhone("9876543210"); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("login: got %v, want ErrUserDisabled", err)
	}
}

func TestSignUpFirstUserBecomesAdmin(t *testing.T) {
	a := newTestApp(t)

	first, _, _, err := a.SignUp("admin@example.com", strongPassword)
	if err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if first.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", first.Role)
	}

	second, _, _, err := a.SignUp("user@example.com", strongPassword)
	if err != nil {
		t.Fatalf("second signup: %v", err)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second user role = %q, want user", second.Role)
	}
}

func TestSignUpValidation(t *testing.T) {
	a := newTestApp(t)
	if _, _, _, err := a.SignUp("u@example.com", strongPassword); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, _, _, err := a.SignUp("U@Example.com", strongPassword); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("duplicate email: got %v, want ErrEmailAlreadyExists", err)
	}
	if _, _, _, err := a.SignUp("weak@example.com", "short"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("weak password: got %v, want ErrWeakPassword", err)
	}
	if _, _, _, err := a.SignUp("", strongPassword); !errors.Is(err, ErrEmailAndPasswordRequired) {
		t.Fatalf("missing email: got %v, want ErrEmailAndPasswordRequired", err)
	}
}

func TestLoginChecksPassword(t *testing.T) {
	a := newTestApp(t)
	if _, _, _, err := a.SignUp("u@example.com", strongPassword); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, _, _, err := a.Login("u@example.com", strongPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, _, err := a.Login("u@example.com", "Wrong!Password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, _, err := a.Login("nobody@example.com", strongPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsPhoneOnlyAccount(t *testing.T) {
	a := newTestApp(t)
	user, _, _, err := a.LoginByPhone("9876543210")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	user.Email = "phone@example.com"
	if err := a.store.SaveUser(user); err != nil {
		t.Fatalf("attach email: %v", err)
	}
	if _, _, _, err := a.Login("phone@example.com", strongPassword); !errors.Is(err, ErrPasswordNotSet) {
		t.Fatalf("login: got %v, want ErrPasswordNotSet", err)
	}
}

func TestUserFromTokenAndLogout(t *testing.T) {
	a := newTestApp(t)
	user, access, refresh, err := a.SignUp("u@example.com", strongPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	resolved, ok := a.UserFromToken(access)
	if !ok || resolved.ID != user.ID {
		t.Fatalf("resolve token: ok=%v id=%q", ok, resolved.ID)
	}

	if err := a.Logout(access, refresh); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.UserFromToken(access); ok {
		t.Fatal("access token still valid after logout")
	}
	if _, _, _, err := a.Refresh(refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("refresh after logout: got %v, want ErrInvalidRefreshToken", err)
	}
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	a := newTestApp(t)
	user, _, refresh, err := a.SignUp("u@example.com", strongPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	rotated, access, newRefresh, err := a.Refresh(refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.ID != user.ID {
		t.Fatalf("refresh user = %q, want %q", rotated.ID, user.ID)
	}
	if access == "" || newRefresh == "" || newRefresh == refresh {
		t.Fatal("expected a fresh token pair")
	}

	// Replaying the consumed token revokes the whole family.
	if _, _, _, err := a.Refresh(refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("replay: got %v, want ErrInvalidRefreshToken", err)
	}
	if _, _, _, err := a.Refresh(newRefresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("post-replay rotation: got %v, want ErrInvalidRefreshToken", err)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	a := newTestApp(t)
	if _, _, _, err := a.Refresh("   "); !errors.Is(err, ErrRefreshTokenRequired) {
		t.Fatalf("refresh: got %v, want ErrRefreshTokenRequired", err)
	}
}

func TestProfileCreatedLazilyWithPhone(t *testing.T) {
	a := newTestApp(t)
	user, _, _, err := a.LoginByPhone("9876543210")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	profile, err := a.Profile(user)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.ID != user.ID || profile.Phone != user.Phone {
		t.Fatalf("profile = %+v, want id/phone copied from user", profile)
	}

	name := "Asha"
	branch := "CSE"
	updated, err := a.UpdateProfile(user, ProfileUpdate{Name: &name, Branch: &branch})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Name != "Asha" || updated.Branch != "CSE" {
		t.Fatalf("updated profile = %+v", updated)
	}
	if updated.Phone != user.Phone {
		t.Fatalf("update clobbered phone: %q", updated.Phone)
	}
}

func TestChangePasswordRevokesExistingTokens(t *testing.T) {
	a := newTestApp(t)
	user, access, refresh, err := a.SignUp("u@example.com", strongPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	const newPassword = "N3w!Passphrase99"
	if err := a.ChangePassword(user.ID, strongPassword, newPassword); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, ok := a.UserFromToken(access); ok {
		t.Fatal("old access token still valid after password change")
	}
	if _, _, _, err := a.Refresh(refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("old refresh token: got %v, want ErrInvalidRefreshToken", err)
	}
	if _, _, _, err := a.Login("u@example.com", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestChangePasswordValidation(t *testing.T) {
	a := newTestApp(t)
	user, _, _, err := a.SignUp("u@example.com", strongPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	if err := a.ChangePassword(user.ID, "", "N3w!Passphrase99"); !errors.Is(err, ErrCurrentPasswordRequired) {
		t.Fatalf("missing current: got %v", err)
	}
	if err := a.ChangePassword(user.ID, "Wrong!Password1", "N3w!Passphrase99"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: got %v", err)
	}
	if err := a.ChangePassword(user.ID, strongPassword, strongPassword); err == nil {
		t.Fatal("expected same-password change to fail")
	}
	if err := a.ChangePassword(user.ID, strongPassword, "weak"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("weak new password: got %v", err)
	}
}

func TestChangePasswordSetsInitialPasswordForPhoneAccount(t *testing.T) {
	a := newTestApp(t)
	user, _, _, err := a.LoginByPhone("9876543210")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	user.Email = "phone@example.com"
	if err := a.store.SaveUser(user); err != nil {
		t.Fatalf("attach email: %v", err)
	}

	// No current password is needed when the account never had one.
	if err := a.ChangePassword(user.ID, "", strongPassword); err != nil {
		t.Fatalf("set initial password: %v", err)
	}
	if _, _, _, err := a.Login("phone@example.com", strongPassword); err != nil {
		t.Fatalf("login after setting password: %v", err)
	}
}

func TestAdminUpdateUserGuards(t *testing.T) {
	a := newTestApp(t)
	admin, _, _, err := a.SignUp("admin@example.com", strongPassword)
	if err != nil {
		t.Fatalf("admin signup: %v", err)
	}
	target, targetAccess, _, err := a.SignUp("user@example.com", strongPassword)
	if err != nil {
		t.Fatalf("user signup: %v", err)
	}

	adminRole := domain.RoleUser
	if _, err := a.AdminUpdateUser(admin, admin.ID, &adminRole, nil); err == nil {
		t.Fatal("expected change of own role to fail")
	}
	disabled := domain.StatusDisabled
	if _, err := a.AdminUpdateUser(admin, admin.ID, nil, &disabled); err == nil {
		t.Fatal("expected disabling self to fail")
	}

	updated, err := a.AdminUpdateUser(admin, target.ID, nil, &disabled)
	if err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if updated.Status != domain.StatusDisabled {
		t.Fatalf("status = %q, want disabled", updated.Status)
	}
	if _, ok := a.UserFromToken(targetAccess); ok {
		t.Fatal("disabled user's token still resolves")
	}
}
