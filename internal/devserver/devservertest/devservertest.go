// Package devservertest starts a development chat server on a loopback
// port for tests.
package devservertest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blinkchat-client/internal/config"
	"blinkchat-client/internal/devserver"
	"blinkchat-client/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const Password = "password"

// Account is a seeded user together with a valid token.
type Account struct {
	User  *models.User
	Token string
}

type Env struct {
	Server  *devserver.Server
	HTTP    *httptest.Server
	WSURL   string
	HTTPURL string
	Alice   Account
	Bob     Account
}

// Start runs a server with the accounts alice and bob. Everything is torn
// down when the test ends.
func Start(t testing.TB) *Env {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	srv := devserver.New(config.DevServerConfig{
		JWTSecret:   "devservertest-secret",
		TokenMaxAge: time.Hour,
	}, zerolog.Nop(), devserver.WithPasswordCost(bcrypt.MinCost))

	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	env := &Env{
		Server:  srv,
		HTTP:    ts,
		WSURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		HTTPURL: ts.URL + "/",
	}
	env.Alice = env.account(t, "alice")
	env.Bob = env.account(t, "bob")
	return env
}

func (e *Env) account(t testing.TB, name string) Account {
	t.Helper()
	user, err := e.Server.CreateUser(context.Background(), name, name+"@example.com", Password)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	token, err := e.Server.IssueToken(user.ID)
	if err != nil {
		t.Fatalf("token for %s: %v", name, err)
	}
	return Account{User: user, Token: token}
}

// WaitOnline blocks until acct has a live connection on the server.
func (e *Env) WaitOnline(t testing.TB, acct Account, online bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.Server.Hub().Online(acct.User.ID) == online {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s online=%v not reached", acct.User.Username, online)
}
