package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/posadmin/internal/authority"
)

const (
	testEmail    = "manager@example.com"
	testPassword = "correct-horse"
)

type testConsole struct {
	globals *Globals
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	cookie  string
}

func newTestConsole(t *testing.T) *testConsole {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auth, err := authority.New(authority.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, logger)
	require.NoError(t, err)
	_, err = auth.AddUser(testEmail, testPassword)
	require.NoError(t, err)
	auth.SeedDemoOrders()
	srv := httptest.NewServer(auth.Handler())
	t.Cleanup(srv.Close)

	tc := &testConsole{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		cookie: filepath.Join(t.TempDir(), "auth_token.json"),
	}
	tc.globals = &Globals{
		Backend:    srv.URL,
		CookieFile: tc.cookie,
		Stdin:      strings.NewReader(""),
		Stdout:     tc.stdout,
		Stderr:     tc.stderr,
	}
	return tc
}

func (tc *testConsole) login(t *testing.T) {
	t.Helper()
	cmd := &LoginCmd{Email: testEmail, Password: testPassword, ReturnURL: "/dashboard"}
	require.NoError(t, cmd.Run(context.Background(), tc.globals))
	tc.stdout.Reset()
}

func TestLogin_StoresCookie(t *testing.T) {
	tc := newTestConsole(t)

	cmd := &LoginCmd{Email: testEmail, Password: testPassword, ReturnURL: "/orders/42"}
	require.NoError(t, cmd.Run(context.Background(), tc.globals))

	assert.Contains(t, tc.stdout.String(), "Signed in as "+testEmail)
	assert.Contains(t, tc.stdout.String(), "Continue at /orders/42")
	_, err := os.Stat(tc.cookie)
	assert.NoError(t, err)
}

func TestLogin_UnsafeReturnURLFallsBack(t *testing.T) {
	tc := newTestConsole(t)

	cmd := &LoginCmd{Email: testEmail, Password: testPassword, ReturnURL: "//evil.example.com"}
	require.NoError(t, cmd.Run(context.Background(), tc.globals))

	assert.Contains(t, tc.stdout.String(), "Continue at /dashboard")
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	tc := newTestConsole(t)
	tc.globals.Stdin = strings.NewReader(testPassword + "\n")

	cmd := &LoginCmd{Email: testEmail, ReturnURL: "/dashboard"}
	require.NoError(t, cmd.Run(context.Background(), tc.globals))

	assert.Contains(t, tc.stderr.String(), "Password: ")
	assert.Contains(t, tc.stdout.String(), "Signed in")
}

func TestLogin_WrongPassword(t *testing.T) {
	tc := newTestConsole(t)

	cmd := &LoginCmd{Email: testEmail, Password: "nope-nope", ReturnURL: "/dashboard"}
	err := cmd.Run(context.Background(), tc.globals)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign-in failed")
	assert.Contains(t, tc.stderr.String(), "error:")
	_, statErr := os.Stat(tc.cookie)
	assert.True(t, os.IsNotExist(statErr), "no cookie should be written")
}

func TestStatus(t *testing.T) {
	tc := newTestConsole(t)

	require.NoError(t, (&StatusCmd{}).Run(context.Background(), tc.globals))
	assert.Contains(t, tc.stdout.String(), "Session: unauthenticated")

	tc.stdout.Reset()
	tc.login(t)
	require.NoError(t, (&StatusCmd{}).Run(context.Background(), tc.globals))
	assert.Contains(t, tc.stdout.String(), "Session: authenticated")
}

func TestOrder_ShowsItems(t *testing.T) {
	tc := newTestConsole(t)
	tc.login(t)

	require.NoError(t, (&OrderCmd{ID: "42"}).Run(context.Background(), tc.globals))

	out := tc.stdout.String()
	assert.Contains(t, out, "Order 42 (paid)")
	assert.Contains(t, out, "Flat white")
	assert.Contains(t, out, "18.50 USD")
}

func TestOrder_ShowsPayments(t *testing.T) {
	tc := newTestConsole(t)
	tc.login(t)

	require.NoError(t, (&OrderCmd{ID: "43", Payments: true}).Run(context.Background(), tc.globals))

	out := tc.stdout.String()
	assert.Contains(t, out, "p-43-1")
	assert.Contains(t, out, "cash")
	assert.Contains(t, out, "7.00 USD")
}

func TestOrder_NotFound(t *testing.T) {
	tc := newTestConsole(t)
	tc.login(t)

	err := (&OrderCmd{ID: "999"}).Run(context.Background(), tc.globals)

	require.Error(t, err)
	var lre *LoginRequiredError
	assert.NotErrorAs(t, err, &lre)
}

func TestOrder_RequiresLogin(t *testing.T) {
	tc := newTestConsole(t)

	err := (&OrderCmd{ID: "42", Payments: true}).Run(context.Background(), tc.globals)

	var lre *LoginRequiredError
	require.ErrorAs(t, err, &lre)
	assert.Equal(t, "/login?returnUrl=%2Fpayments%2F42", lre.Target)
	assert.Empty(t, tc.stdout.String())
}

func TestOrder_ForgedCookie(t *testing.T) {
	tc := newTestConsole(t)
	require.NoError(t, os.WriteFile(tc.cookie, []byte(`{"name":"auth_token","value":"forged.token.value"}`), 0o600))

	err := (&OrderCmd{ID: "42"}).Run(context.Background(), tc.globals)

	var lre *LoginRequiredError
	require.ErrorAs(t, err, &lre)
	assert.Equal(t, "/login?returnUrl=%2Forders%2F42", lre.Target)
	_, statErr := os.Stat(tc.cookie)
	assert.True(t, os.IsNotExist(statErr), "rejected cookie should be removed")
}

func TestLogout(t *testing.T) {
	tc := newTestConsole(t)
	tc.login(t)

	require.NoError(t, (&LogoutCmd{}).Run(context.Background(), tc.globals))

	assert.Contains(t, tc.stdout.String(), "Signed out.")
	_, err := os.Stat(tc.cookie)
	assert.True(t, os.IsNotExist(err))

	err = (&OrderCmd{ID: "42"}).Run(context.Background(), tc.globals)
	var lre *LoginRequiredError
	assert.ErrorAs(t, err, &lre)
}

func TestBackendUnreachable_KeepsCookie(t *testing.T) {
	tc := newTestConsole(t)
	tc.login(t)
	tc.globals.Backend = "http://127.0.0.1:1"

	err := (&OrderCmd{ID: "42"}).Run(context.Background(), tc.globals)

	var lre *LoginRequiredError
	require.ErrorAs(t, err, &lre)
	_, statErr := os.Stat(tc.cookie)
	assert.NoError(t, statErr, "cookie survives a network failure")
	assert.NotEmpty(t, tc.stderr.String())
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0.05 USD", money(5, "USD"))
	assert.Equal(t, "12.00 EUR", money(1200, "EUR"))
	assert.Equal(t, "-3.10 USD", money(-310, "USD"))
}
