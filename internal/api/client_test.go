package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blinkchat-client/internal/api"
	"blinkchat-client/internal/devserver/devservertest"
	"blinkchat-client/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	c, err := api.New(baseURL, 2*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestLoginAndListUsers(t *testing.T) {
	env := devservertest.Start(t)
	c := newClient(t, env.HTTPURL)
	ctx := context.Background()

	sess, err := c.Login(ctx, "alice@example.com", devservertest.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Token == "" || sess.User.ID != env.Alice.User.ID {
		t.Fatalf("unexpected session %+v", sess)
	}

	users, err := c.GetUsers(ctx, sess.Token)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestLoginRejected(t *testing.T) {
	env := devservertest.Start(t)
	c := newClient(t, env.HTTPURL)

	_, err := c.Login(context.Background(), "alice@example.com", "wrong-password")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Kind() != websocket.KindAccessDenied {
		t.Fatalf("unexpected %+v", apiErr)
	}

	_, err = c.GetUsers(context.Background(), "bad-token")
	if !errors.As(err, &apiErr) || apiErr.Kind() != websocket.KindInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestGetMessagesPages(t *testing.T) {
	env := devservertest.Start(t)
	c := newClient(t, env.HTTPURL)
	ctx := context.Background()

	msgs, err := c.GetMessages(ctx, env.Alice.Token, env.Bob.User.ID, 0, 20)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}

	_, err = c.GetMessages(ctx, env.Alice.Token, uuid.New(), 0, 20)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind() != websocket.KindUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestRequestErrorKinds(t *testing.T) {
	if _, err := api.New("ftp://example.com", time.Second, zerolog.Nop()); err == nil {
		t.Fatal("expected builder error")
	}

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		}
	}))
	defer plain.Close()
	c := newClient(t, plain.URL)
	ctx := context.Background()

	_, err := c.GetUsers(ctx, "tok")
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.Kind != api.KindHTTP || reqErr.Status != http.StatusBadGateway {
		t.Fatalf("expected http error, got %v", err)
	}

	_, err = c.GetMessages(ctx, "tok", uuid.New(), 0, 10)
	if !errors.As(err, &reqErr) || reqErr.Kind != api.KindDeserialize {
		t.Fatalf("expected deserialize error, got %v", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	_, err = newClient(t, closedURL).GetUsers(ctx, "tok")
	if !errors.As(err, &reqErr) || reqErr.Kind != api.KindConnect {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c, err := api.New(slow.URL, 50*time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.GetUsers(context.Background(), "tok")
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.Kind != api.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}
