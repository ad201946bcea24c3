// Package client is the interactive terminal front end of the treatments
// service.  App holds the view state and performs one API call per user
// action; the REPL in repl.go maps typed commands onto App methods.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/machine-treatments/internal/logger"
)

var (
	ErrNoMachineType = errors.New("select a machine type first")
	ErrEmptyField    = errors.New("fields must not be empty")
	ErrNotLoggedIn   = errors.New("log in first")
	ErrNoSuchRow     = errors.New("no such row")
	ErrNothingToSave = errors.New("nothing to save; use edit <n> first")
	ErrWrongMode     = errors.New("command not available here")
	// ErrSessionExpired means the server no longer accepts the session's
	// tokens; the session has been dropped and the user must log in again.
	ErrSessionExpired = errors.New("session expired")
)

const (
	networkNotice = "Could not reach the server. Please try again."
	expiredNotice = "Your session has expired. Please log in again."
)

// alertedError marks an error the user has already been shown.
type alertedError struct{ err error }

func (e *alertedError) Error() string { return e.err.Error() }

func (e *alertedError) Unwrap() error { return e.err }

// IsAlerted reports whether err was already presented to the user.
func IsAlerted(err error) bool {
	var ae *alertedError
	return errors.As(err, &ae)
}

// Draft is the row currently being edited in viewing mode.
type Draft struct {
	Index int
	ID    string
	Text  string
}

// App is the client state: mode, selected machine type, the fetched list,
// an optional edit draft and the current session.
type App struct {
	api    API
	log    *logger.Logger
	reader *bufio.Reader
	out    io.Writer

	mode        Mode
	machineType string
	items       []Treatment
	draft       *Draft
	session     *Session

	now func() time.Time
}

func NewApp(api API, in io.Reader, out io.Writer, log *logger.Logger) *App {
	return &App{
		api:    api,
		log:    log.With("client"),
		reader: bufio.NewReader(in),
		out:    out,
		mode:   ModeIdle,
		now:    time.Now,
	}
}

func (a *App) Mode() Mode { return a.mode }

func (a *App) MachineType() string { return a.machineType }

func (a *App) Items() []Treatment { return a.items }

func (a *App) Draft() *Draft { return a.draft }

func (a *App) Session() *Session { return a.session }

func (a *App) isAuthenticated() bool { return a.session != nil && a.session.AccessToken != "" }

func (a *App) notify(msg string) { fmt.Fprintln(a.out, msg) }

func (a *App) alert(msg string) { fmt.Fprintln(a.out, "! "+msg) }

func (a *App) apply(ev Event) error {
	next, err := Transition(a.mode, ev, a.isAuthenticated())
	if err != nil {
		return err
	}
	if next != a.mode && a.mode == ModeViewing {
		a.draft = nil
	}
	a.mode = next
	return nil
}

// failure shows a generic notice for err; details go to the debug log only.
func (a *App) failure(op string, err error, notice string) error {
	a.log.Debug().Err(err).Str("op", op).Msg("api call failed")
	if errors.Is(err, ErrNetwork) {
		notice = networkNotice
	}
	return a.reject(notice, err)
}

func (a *App) reject(notice string, err error) error {
	a.alert(notice)
	return &alertedError{err: err}
}

// writeFailure is failure for authenticated calls: a dropped session gets
// its own notice so the user knows to log in again.
func (a *App) writeFailure(op string, err error, notice string) error {
	if errors.Is(err, ErrSessionExpired) {
		return a.reject(expiredNotice, err)
	}
	return a.failure(op, err, notice)
}

// renewSession trades the refresh token for a new pair.  When the server
// rejects it the session is dropped and ErrSessionExpired returned.
func (a *App) renewSession(ctx context.Context) error {
	if a.session.RefreshToken == "" {
		a.session = nil
		return ErrSessionExpired
	}
	s, err := a.api.Refresh(ctx, a.session.RefreshToken)
	if err != nil {
		a.log.Debug().Err(err).Str("op", "refresh").Msg("api call failed")
		if isUnauthorized(err) {
			a.session = nil
			return fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return err
	}
	if s.Email == "" {
		s.Email = a.session.Email
	}
	a.session = &s
	return nil
}

// authorized runs call with a current access token.  An expired token is
// renewed first, and a 401 from call renews and retries exactly once.
func (a *App) authorized(ctx context.Context, call func(token string) error) error {
	if a.session == nil {
		return ErrNotLoggedIn
	}
	if a.session.Expired(a.now()) {
		if err := a.renewSession(ctx); err != nil {
			return err
		}
	}
	err := call(a.session.AccessToken)
	if !isUnauthorized(err) {
		return err
	}
	if err := a.renewSession(ctx); err != nil {
		return err
	}
	return call(a.session.AccessToken)
}

// SelectMachineType picks a machine type by 1-based number or by name and
// clears the current list.  The mode does not change.
func (a *App) SelectMachineType(arg string) error {
	if a.mode != ModeIdle && a.mode != ModeAdding {
		return ErrWrongMode
	}
	mt, ok := lookupMachineType(arg)
	if !ok {
		return fmt.Errorf("unknown machine type %q", arg)
	}
	a.machineType = mt
	a.items = nil
	a.draft = nil
	a.notify("Selected " + mt + ".")
	return nil
}

// View fetches the treatments of the selected machine type and switches to
// viewing mode.  On failure the client stays idle.
func (a *App) View(ctx context.Context) error {
	if a.mode != ModeIdle {
		return ErrWrongMode
	}
	if a.machineType == "" {
		return a.reject("Please select a machine type.", ErrNoMachineType)
	}
	items, err := a.api.ListByType(ctx, a.machineType)
	if err != nil {
		return a.failure("list", err, "Could not load treatments.")
	}
	a.items = items
	return a.apply(EventView)
}

// Refresh re-fetches the current list without changing mode.
func (a *App) Refresh(ctx context.Context) error {
	if a.machineType == "" {
		return ErrNoMachineType
	}
	items, err := a.api.ListByType(ctx, a.machineType)
	if err != nil {
		return a.failure("list", err, "Could not load treatments.")
	}
	a.items = items
	return nil
}

// ListAll fetches every treatment regardless of machine type.  It does not
// touch the selected list.
func (a *App) ListAll(ctx context.Context) ([]Treatment, error) {
	items, err := a.api.ListAll(ctx)
	if err != nil {
		return nil, a.failure("list all", err, "Could not load treatments.")
	}
	return items, nil
}

// StartAdd opens the add form, or the login form when no usable session
// exists.  An expired access token is renewed here so the user is sent to
// login before typing anything when the session cannot be saved.
func (a *App) StartAdd(ctx context.Context) error {
	if a.mode == ModeIdle && a.session != nil && a.session.Expired(a.now()) {
		switch err := a.renewSession(ctx); {
		case errors.Is(err, ErrSessionExpired):
			a.alert(expiredNotice)
		case err != nil:
			// Offline: keep the session; the save retries the renewal.
			a.log.Debug().Err(err).Msg("renew session before add")
		}
	}
	return a.apply(EventAdd)
}

// SaveNew submits the add form.
func (a *App) SaveNew(ctx context.Context, text string) error {
	if a.mode != ModeAdding {
		return ErrWrongMode
	}
	text = strings.TrimSpace(text)
	if a.machineType == "" || text == "" {
		return a.reject("Please fill in all fields.", ErrEmptyField)
	}
	if !a.isAuthenticated() {
		return a.reject(expiredNotice, ErrNotLoggedIn)
	}
	err := a.authorized(ctx, func(token string) error {
		_, err := a.api.Create(ctx, token, a.machineType, text)
		return err
	})
	if err != nil {
		return a.writeFailure("create", err, "Failed to save treatment.")
	}
	a.notify("Treatment saved.")
	if err := a.apply(EventSaved); err != nil {
		return err
	}
	return a.Refresh(ctx)
}

// BeginEdit makes row n (1-based) the edit draft.
func (a *App) BeginEdit(arg string) error {
	if a.mode != ModeViewing {
		return ErrWrongMode
	}
	i, ok := parseIndex(arg, len(a.items))
	if !ok {
		return ErrNoSuchRow
	}
	a.draft = &Draft{Index: i, ID: a.items[i].ID, Text: a.items[i].Treatment}
	return nil
}

// SaveEdit submits the draft with new text and re-fetches the list.
func (a *App) SaveEdit(ctx context.Context, text string) error {
	if a.mode != ModeViewing {
		return ErrWrongMode
	}
	if a.draft == nil {
		return ErrNothingToSave
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return a.reject("Please fill in all fields.", ErrEmptyField)
	}
	if !a.isAuthenticated() {
		return a.reject("Please log in to edit treatments.", ErrNotLoggedIn)
	}
	id := a.draft.ID
	err := a.authorized(ctx, func(token string) error {
		return a.api.Update(ctx, token, id, text)
	})
	if err != nil {
		return a.writeFailure("update", err, "Failed to update treatment.")
	}
	a.draft = nil
	return a.Refresh(ctx)
}

// Delete removes row n (1-based) and re-fetches the list.
func (a *App) Delete(ctx context.Context, arg string) error {
	if a.mode != ModeViewing {
		return ErrWrongMode
	}
	i, ok := parseIndex(arg, len(a.items))
	if !ok {
		return ErrNoSuchRow
	}
	if !a.isAuthenticated() {
		return a.reject("Please log in to delete treatments.", ErrNotLoggedIn)
	}
	id := a.items[i].ID
	err := a.authorized(ctx, func(token string) error {
		return a.api.Delete(ctx, token, id)
	})
	if err != nil {
		return a.writeFailure("delete", err, "Failed to delete treatment.")
	}
	a.draft = nil
	return a.Refresh(ctx)
}

func (a *App) Back() error   { return a.apply(EventBack) }
func (a *App) Cancel() error { return a.apply(EventCancel) }
func (a *App) Close() error  { return a.apply(EventClose) }

// OpenRegister switches from the login form to the register form.
func (a *App) OpenRegister() error { return a.apply(EventRegister) }

// Login authenticates and continues to the add form.
func (a *App) Login(ctx context.Context, email, password string) error {
	if a.mode != ModeLogin {
		return ErrWrongMode
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return a.reject("Please fill in all fields.", ErrEmptyField)
	}
	s, err := a.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return a.failure("login", err, "Login failed.")
	}
	a.session = &s
	a.notify("Logged in as " + s.Email + ".")
	return a.apply(EventAuthenticated)
}

// Register creates an account and returns to the login form.
func (a *App) Register(ctx context.Context, email, password string) error {
	if a.mode != ModeRegister {
		return ErrWrongMode
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return a.reject("Please fill in all fields.", ErrEmptyField)
	}
	if err := a.api.Register(ctx, strings.TrimSpace(email), password); err != nil {
		return a.failure("register", err, "Registration failed.")
	}
	a.notify("Registered. Please log in.")
	return a.apply(EventRegistered)
}

// Logout revokes the refresh token on the server and drops the session.
// A 401 means the server already holds nothing for these tokens, so the
// session is dropped locally all the same.
func (a *App) Logout(ctx context.Context) error {
	if a.session == nil {
		return ErrNotLoggedIn
	}
	if err := a.api.Logout(ctx, a.session.AccessToken, a.session.RefreshToken); err != nil && !isUnauthorized(err) {
		return a.failure("logout", err, "Logout failed.")
	}
	a.session = nil
	a.notify("Logged out.")
	return a.apply(EventLogout)
}

// parseIndex converts a 1-based row number into a slice index.
func parseIndex(arg string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}
