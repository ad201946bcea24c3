package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// fakeAPI is an in-memory API with per-operation failure injection.
type fakeAPI struct {
	items     []Treatment
	users     map[string]string
	nextID    int
	calls     []string
	fail      map[string]error
	lastToken string

	// stale access tokens are answered with 401, as after expiry.
	stale map[string]bool
	// refreshOwners maps live refresh tokens to their user.
	refreshOwners map[string]string
	rotations     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users:         map[string]string{},
		fail:          map[string]error{},
		stale:         map[string]bool{},
		refreshOwners: map[string]string{},
	}
}

func (f *fakeAPI) record(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeAPI) ListByType(_ context.Context, machineType string) ([]Treatment, error) {
	if err := f.record("list"); err != nil {
		return nil, err
	}
	out := []Treatment{}
	for _, t := range f.items {
		if t.MachineType == machineType {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListAll(context.Context) ([]Treatment, error) {
	if err := f.record("listall"); err != nil {
		return nil, err
	}
	return append([]Treatment{}, f.items...), nil
}

func (f *fakeAPI) auth(token string) error {
	f.lastToken = token
	if token == "" || f.stale[token] {
		return &StatusError{Status: http.StatusUnauthorized, Message: "invalid token"}
	}
	return nil
}

func (f *fakeAPI) Create(_ context.Context, token, machineType, text string) (Treatment, error) {
	if err := f.record("create"); err != nil {
		return Treatment{}, err
	}
	if err := f.auth(token); err != nil {
		return Treatment{}, err
	}
	f.nextID++
	t := Treatment{ID: fmt.Sprintf("id%d", f.nextID), MachineType: machineType, Treatment: text}
	f.items = append(f.items, t)
	return t, nil
}

func (f *fakeAPI) Update(_ context.Context, token, id, text string) error {
	if err := f.record("update"); err != nil {
		return err
	}
	if err := f.auth(token); err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Treatment = text
			return nil
		}
	}
	return &StatusError{Status: http.StatusNotFound}
}

func (f *fakeAPI) Delete(_ context.Context, token, id string) error {
	if err := f.record("delete"); err != nil {
		return err
	}
	if err := f.auth(token); err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return &StatusError{Status: http.StatusNotFound}
}

func (f *fakeAPI) Register(_ context.Context, email, password string) error {
	if err := f.record("register"); err != nil {
		return err
	}
	email = strings.ToLower(email)
	if _, ok := f.users[email]; ok {
		return &StatusError{Status: http.StatusConflict}
	}
	f.users[email] = password
	return nil
}

func (f *fakeAPI) Login(_ context.Context, email, password string) (Session, error) {
	if err := f.record("login"); err != nil {
		return Session{}, err
	}
	pw, ok := f.users[strings.ToLower(email)]
	if !ok {
		return Session{}, &StatusError{Status: http.StatusNotFound}
	}
	if pw != password {
		return Session{}, &StatusError{Status: http.StatusUnauthorized}
	}
	f.refreshOwners["ref-"+email] = strings.ToLower(email)
	return Session{Email: strings.ToLower(email), AccessToken: "acc-" + email, RefreshToken: "ref-" + email}, nil
}

func (f *fakeAPI) Refresh(_ context.Context, refreshToken string) (Session, error) {
	if err := f.record("refresh"); err != nil {
		return Session{}, err
	}
	email, ok := f.refreshOwners[refreshToken]
	if !ok {
		return Session{}, &StatusError{Status: http.StatusUnauthorized, Message: "invalid refresh"}
	}
	delete(f.refreshOwners, refreshToken)
	f.rotations++
	next := fmt.Sprintf("ref%d-%s", f.rotations, email)
	f.refreshOwners[next] = email
	return Session{
		Email:         email,
		AccessToken:   fmt.Sprintf("acc%d-%s", f.rotations, email),
		AccessExpires: time.Now().Add(15 * time.Minute),
		RefreshToken:  next,
	}, nil
}

func (f *fakeAPI) Logout(_ context.Context, token, _ string) error {
	if err := f.record("logout"); err != nil {
		return err
	}
	return f.auth(token)
}
