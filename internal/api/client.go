// Package api is the HTTP side of the chat client: login, user listing and
// paginated message history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blinkchat-client/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxRedirects = 5

// Session is the result of a successful login.
type Session struct {
	Token string
	User  models.PublicUser
}

// Client talks to the REST endpoints under baseURL.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

// New returns a Client for baseURL. timeout bounds each request.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &RequestError{Kind: KindBuilder, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &RequestError{Kind: KindBuilder, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Client{
		baseURL: u,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		log: logger.With().Str("component", "api").Logger(),
	}, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var resp models.LoginResponse
	body := models.LoginUserRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "api/v1/auth/login", nil, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, &RequestError{Kind: KindDeserialize, Err: fmt.Errorf("login response without token or user")}
	}
	return &Session{Token: resp.Token, User: *resp.User}, nil
}

// GetUsers lists the users known to the server.
func (c *Client) GetUsers(ctx context.Context, token string) ([]models.PublicUser, error) {
	var users []models.PublicUser
	if err := c.do(ctx, http.MethodGet, "api/v1/users", nil, token, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetMessages fetches one page of the conversation with target. Page 0 is
// the most recent.
func (c *Client) GetMessages(ctx context.Context, token string, target uuid.UUID, page, pageSize int) ([]models.MessageRecord, error) {
	q := url.Values{}
	q.Set("target", target.String())
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var records []models.MessageRecord
	if err := c.do(ctx, http.MethodGet, "api/v1/messages", q, token, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, token string, in, out interface{}) error {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return &RequestError{Kind: KindBuilder, Err: err}
	}
	u := c.baseURL.ResolveReference(ref)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &RequestError{Kind: KindBuilder, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &RequestError{Kind: KindBuilder, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.log.Debug().Str("method", method).Str("path", u.Path).Msg("request")
	resp, err := c.http.Do(req)
	if err != nil {
		reqErr := classifyTransport(err)
		c.log.Warn().Err(err).Str("kind", string(reqErr.Kind)).Str("path", u.Path).Msg("request failed")
		return reqErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr models.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
		}
		return &RequestError{Kind: KindHTTP, Status: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RequestError{Kind: KindDeserialize, Status: resp.StatusCode, Err: err}
	}
	return nil
}
