package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrRequestFailed matches every non-2xx response (see StatusError).
	ErrRequestFailed = errors.New("request failed")
	// ErrNetwork wraps transport failures: refused connections, timeouts.
	ErrNetwork = errors.New("network error")
)

// StatusError carries the status and error text of a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrRequestFailed }

// isUnauthorized reports a 401, which means the token presented is no
// longer accepted.
func isUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

// Treatment is the wire form of a treatment record.
type Treatment struct {
	ID          string `json:"id"`
	MachineType string `json:"machineType"`
	Treatment   string `json:"treatment"`
}

// Session is what a successful login leaves on the client.
type Session struct {
	Email         string
	AccessToken   string
	AccessExpires time.Time
	RefreshToken  string
}

// expirySkew treats an access token as expired slightly early so a request
// does not race its expiry in flight.
const expirySkew = 10 * time.Second

// Expired reports whether the access token is past its expiry at now.  A
// zero AccessExpires means the server did not say and is never expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.AccessExpires.IsZero() && !now.Before(s.AccessExpires.Add(-expirySkew))
}

// API is the set of calls the client makes.  APIClient implements it over
// HTTP; tests substitute an in-memory fake.
type API interface {
	ListByType(ctx context.Context, machineType string) ([]Treatment, error)
	ListAll(ctx context.Context) ([]Treatment, error)
	Create(ctx context.Context, token, machineType, text string) (Treatment, error)
	Update(ctx context.Context, token, id, text string) error
	Delete(ctx context.Context, token, id string) error
	Register(ctx context.Context, email, password string) error
	Login(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	Logout(ctx context.Context, token, refreshToken string) error
}

// APIClient talks to the treatments REST API.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *APIClient) ListByType(ctx context.Context, machineType string) ([]Treatment, error) {
	out := []Treatment{}
	err := c.do(ctx, http.MethodGet, "/api/treatments/"+url.PathEscape(machineType), "", nil, &out)
	return out, err
}

func (c *APIClient) ListAll(ctx context.Context) ([]Treatment, error) {
	out := []Treatment{}
	err := c.do(ctx, http.MethodGet, "/api/treatments", "", nil, &out)
	return out, err
}

func (c *APIClient) Create(ctx context.Context, token, machineType, text string) (Treatment, error) {
	var out Treatment
	in := map[string]string{"machineType": machineType, "treatment": text}
	err := c.do(ctx, http.MethodPost, "/api/treatments", token, in, &out)
	return out, err
}

func (c *APIClient) Update(ctx context.Context, token, id, text string) error {
	in := map[string]string{"treatment": text}
	return c.do(ctx, http.MethodPut, "/api/treatments/"+url.PathEscape(id), token, in, nil)
}

func (c *APIClient) Delete(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/treatments/"+url.PathEscape(id), token, nil, nil)
}

func (c *APIClient) Register(ctx context.Context, email, password string) error {
	in := map[string]string{"email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/register", "", in, nil)
}

// sessionResp is the body of both login and refresh.
type sessionResp struct {
	User struct {
		Email string `json:"email"`
	} `json:"user"`
	Access struct {
		Token   string    `json:"token"`
		Expires time.Time `json:"expires"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (r sessionResp) session() Session {
	return Session{
		Email:         r.User.Email,
		AccessToken:   r.Access.Token,
		AccessExpires: r.Access.Expires,
		RefreshToken:  r.Refresh.Token,
	}
}

func (c *APIClient) Login(ctx context.Context, email, password string) (Session, error) {
	var out sessionResp
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", "", in, &out); err != nil {
		return Session{}, err
	}
	return out.session(), nil
}

// Refresh trades a refresh token for a new pair.  The old refresh token is
// revoked by the server either way.
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out sessionResp
	in := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/api/refresh", "", in, &out); err != nil {
		return Session{}, err
	}
	return out.session(), nil
}

func (c *APIClient) Logout(ctx context.Context, token, refreshToken string) error {
	var in any
	if refreshToken != "" {
		in = map[string]string{"refresh_token": refreshToken}
	}
	return c.do(ctx, http.MethodPost, "/api/logout", token, in, nil)
}

// do sends one request.  in, when non-nil, is sent as JSON; out, when
// non-nil, receives the decoded 2xx body.
func (c *APIClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
