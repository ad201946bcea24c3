package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/machine-treatments/internal/config"
	"github.com/iliyamo/machine-treatments/internal/logger"
	"github.com/iliyamo/machine-treatments/internal/middleware"
	"github.com/iliyamo/machine-treatments/internal/model"
	"github.com/iliyamo/machine-treatments/internal/queue"
	"github.com/iliyamo/machine-treatments/internal/repository"
	"github.com/iliyamo/machine-treatments/internal/utils"
)

var errStoreDown = errors.New("store unavailable")

type memTreatments struct {
	mu    sync.Mutex
	items []model.Treatment
	err   error
}

func (m *memTreatments) Create(_ context.Context, t *model.Treatment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t.ID = primitive.NewObjectID()
	m.items = append(m.items, *t)
	return nil
}

func (m *memTreatments) ListByMachineType(_ context.Context, machineType string) ([]model.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Treatment{}
	for _, t := range m.items {
		if t.MachineType == machineType {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTreatments) ListAll(_ context.Context) ([]model.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]model.Treatment{}, m.items...), nil
}

func (m *memTreatments) UpdateText(_ context.Context, id primitive.ObjectID, text string) (model.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Treatment{}, m.err
	}
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Treatment = text
			return m.items[i], nil
		}
	}
	return model.Treatment{}, repository.ErrTreatmentNotFound
}

func (m *memTreatments) Delete(_ context.Context, id primitive.ObjectID) (model.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Treatment{}, m.err
	}
	for i, t := range m.items {
		if t.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return t, nil
		}
	}
	return model.Treatment{}, repository.ErrTreatmentNotFound
}

func (m *memTreatments) snapshot() []model.Treatment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Treatment{}, m.items...)
}

func (m *memTreatments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memUsers struct {
	mu    sync.Mutex
	byKey map[string]model.User
}

func newMemUsers() *memUsers { return &memUsers{byKey: map[string]model.User{}} }

func (m *memUsers) Create(_ context.Context, email, password string, cost int) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = repository.NormalizeEmail(email)
	if _, ok := m.byKey[email]; ok {
		return model.User{}, repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{ID: primitive.NewObjectID(), Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	m.byKey[email] = u
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byKey[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id primitive.ObjectID) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byKey {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

type memToken struct {
	userID  primitive.ObjectID
	exp     time.Time
	revoked bool
}

type memTokens struct {
	mu     sync.Mutex
	byHash map[string]*memToken
}

func newMemTokens() *memTokens { return &memTokens{byHash: map[string]*memToken{}} }

func (m *memTokens) StoreRefresh(_ context.Context, userID primitive.ObjectID, tokenHash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[tokenHash] = &memToken{userID: userID, exp: exp}
	return nil
}

func (m *memTokens) ValidateRefresh(_ context.Context, tokenHash string) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.byHash[tokenHash]
	if !ok || tok.revoked || time.Now().After(tok.exp) {
		return primitive.NilObjectID, repository.ErrTokenNotFound
	}
	return tok.userID, nil
}

func (m *memTokens) RevokeByHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.byHash[tokenHash]; ok {
		tok.revoked = true
	}
	return nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.byHash {
		if tok.userID == userID {
			tok.revoked = true
		}
	}
	return nil
}

type recordingPublisher struct {
	mu         sync.Mutex
	treatments []queue.TreatmentEvent
	users      []queue.UserRegisteredEvent
	err        error
}

func (p *recordingPublisher) PublishTreatmentEvent(_ context.Context, ev queue.TreatmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.treatments = append(p.treatments, ev)
	return p.err
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, ev queue.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, ev)
	return p.err
}

// published waits for queued treatment events and returns them in order.
func (env *testEnv) published() []queue.TreatmentEvent {
	env.handler.Flush()
	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	return append([]queue.TreatmentEvent(nil), env.events.treatments...)
}

// registered waits for registration events and returns them.
func (env *testEnv) registered() []queue.UserRegisteredEvent {
	env.auth.Flush()
	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	return append([]queue.UserRegisteredEvent(nil), env.events.users...)
}

// stallingPublisher blocks every treatment publish until release is closed.
type stallingPublisher struct {
	recordingPublisher
	release chan struct{}
}

func (p *stallingPublisher) PublishTreatmentEvent(ctx context.Context, ev queue.TreatmentEvent) error {
	<-p.release
	return p.recordingPublisher.PublishTreatmentEvent(ctx, ev)
}

func (p *stallingPublisher) PublishUserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error {
	<-p.release
	return p.recordingPublisher.PublishUserRegistered(ctx, ev)
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingInvalidator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

var testCfg = config.Config{
	JWTSecret:      "handler-test-secret",
	AccessTTLMin:   15,
	RefreshTTLDays: 7,
	BcryptCost:     bcrypt.MinCost,
}

type testEnv struct {
	e          *echo.Echo
	treatments *memTreatments
	users      *memUsers
	tokens     *memTokens
	events     *recordingPublisher
	cache      *countingInvalidator
	handler    *TreatmentHandler
	auth       *AuthHandler
}

// newTestEnv mounts both handlers the way the router does, with JWTAuth in
// front of the treatment writes and /api/me.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		e:          echo.New(),
		treatments: &memTreatments{},
		users:      newMemUsers(),
		tokens:     newMemTokens(),
		events:     &recordingPublisher{},
		cache:      &countingInvalidator{},
	}
	th := NewTreatmentHandler(env.treatments, env.events, env.cache, logger.Nop())
	t.Cleanup(th.Close)
	env.handler = th
	ah := NewAuthHandler(testCfg, env.users, env.tokens, env.events, logger.Nop())
	env.auth = ah
	auth := middleware.JWTAuth(testCfg.JWTSecret)

	env.e.GET("/healthz", Health)
	env.e.POST("/api/register", ah.Register)
	env.e.POST("/api/login", ah.Login)
	env.e.POST("/api/refresh", ah.Refresh)
	env.e.POST("/api/logout", ah.Logout)
	env.e.GET("/api/me", ah.Me, auth)

	env.e.GET("/api/treatments", th.ListAll)
	env.e.GET("/api/treatments/:machineType", th.ListByType)
	env.e.POST("/api/treatments", th.Create, auth)
	env.e.PUT("/api/treatments/:id", th.Update, auth)
	env.e.DELETE("/api/treatments/:id", th.Delete, auth)
	return env
}

func (env *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

// accessToken mints a token for a fresh user id without touching the stores.
func accessToken(t *testing.T) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testCfg.JWTSecret, primitive.NewObjectID().Hex(), "tech@example.com", 5)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}
