package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/machine-treatments/internal/logger"
)

func newTestApp(api API) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	return NewApp(api, strings.NewReader(""), &out, logger.Nop()), &out
}

// loggedInApp returns an App with a session, back in idle mode.
func loggedInApp(t *testing.T, api *fakeAPI) (*App, *bytes.Buffer) {
	t.Helper()
	api.users["tech@example.com"] = "pw"
	a, out := newTestApp(api)
	require.NoError(t, a.SelectMachineType("Ventilator"))
	require.NoError(t, a.StartAdd(context.Background()))
	require.Equal(t, ModeLogin, a.Mode())
	require.NoError(t, a.Login(context.Background(), "tech@example.com", "pw"))
	require.Equal(t, ModeAdding, a.Mode())
	require.NoError(t, a.Cancel())
	return a, out
}

func TestApp_SelectClearsList(t *testing.T) {
	api := newFakeAPI()
	api.items = []Treatment{{ID: "1", MachineType: "Ventilator", Treatment: "x"}}
	a, _ := newTestApp(api)

	require.NoError(t, a.SelectMachineType("Ventilator"))
	require.NoError(t, a.View(context.Background()))
	require.NoError(t, a.Back())
	require.Len(t, a.Items(), 1)

	require.NoError(t, a.SelectMachineType("2"))
	assert.Equal(t, "CT Scanner", a.MachineType())
	assert.Empty(t, a.Items())
	assert.Equal(t, ModeIdle, a.Mode())
	assert.Error(t, a.SelectMachineType("Toaster"))
}

func TestApp_ViewRequiresMachineType(t *testing.T) {
	api := newFakeAPI()
	a, out := newTestApp(api)

	err := a.View(context.Background())
	require.ErrorIs(t, err, ErrNoMachineType)
	assert.True(t, IsAlerted(err))
	assert.Equal(t, ModeIdle, a.Mode())
	assert.Empty(t, api.calls)
	assert.Contains(t, out.String(), "select a machine type")
}

func TestApp_ViewFailureStaysIdle(t *testing.T) {
	api := newFakeAPI()
	api.fail["list"] = fmt.Errorf("%w: refused", ErrNetwork)
	a, out := newTestApp(api)
	require.NoError(t, a.SelectMachineType("Ventilator"))

	err := a.View(context.Background())
	require.Error(t, err)
	assert.Equal(t, ModeIdle, a.Mode())
	assert.Contains(t, out.String(), "Could not reach the server")
}

func TestApp_VentilatorScenario(t *testing.T) {
	api := newFakeAPI()
	a, _ := loggedInApp(t, api)
	ctx := context.Background()

	for _, text := range []string{"Replace filter", "Calibrate sensors"} {
		require.NoError(t, a.StartAdd(context.Background()))
		require.Equal(t, ModeAdding, a.Mode())
		require.NoError(t, a.SaveNew(ctx, text))
		assert.Equal(t, ModeIdle, a.Mode())
	}

	require.NoError(t, a.View(ctx))
	assert.Equal(t, ModeViewing, a.Mode())
	require.Len(t, a.Items(), 2)
	assert.Equal(t, "Replace filter", a.Items()[0].Treatment)
	assert.Equal(t, "acc-tech@example.com", api.lastToken)
}

func TestApp_AddValidationAndFailure(t *testing.T) {
	api := newFakeAPI()
	a, out := loggedInApp(t, api)
	ctx := context.Background()
	require.NoError(t, a.StartAdd(context.Background()))

	err := a.SaveNew(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyField)
	assert.NotContains(t, api.calls, "create")

	api.fail["create"] = &StatusError{Status: 500}
	err = a.SaveNew(ctx, "Replace filter")
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, ModeAdding, a.Mode())
	assert.Contains(t, out.String(), "Failed to save treatment.")
}

func TestApp_AddWithoutSessionGoesToLogin(t *testing.T) {
	api := newFakeAPI()
	a, _ := newTestApp(api)

	require.NoError(t, a.StartAdd(context.Background()))
	assert.Equal(t, ModeLogin, a.Mode())

	require.NoError(t, a.OpenRegister())
	assert.Equal(t, ModeRegister, a.Mode())
	require.NoError(t, a.Close())
	assert.Equal(t, ModeRegister, a.Mode())

	require.NoError(t, a.Register(context.Background(), "new@example.com", "pw"))
	assert.Equal(t, ModeLogin, a.Mode())

	err := a.Login(context.Background(), "new@example.com", "wrong")
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, ModeLogin, a.Mode())
	assert.Nil(t, a.Session())

	require.NoError(t, a.Login(context.Background(), "new@example.com", "pw"))
	assert.Equal(t, ModeAdding, a.Mode())
	require.NotNil(t, a.Session())
	assert.Equal(t, "new@example.com", a.Session().Email)
}

func TestApp_CloseLoginReturnsIdle(t *testing.T) {
	a, _ := newTestApp(newFakeAPI())
	require.NoError(t, a.StartAdd(context.Background()))
	require.NoError(t, a.Close())
	assert.Equal(t, ModeIdle, a.Mode())
}

func TestApp_EditAndDeleteRefetch(t *testing.T) {
	api := newFakeAPI()
	a, _ := loggedInApp(t, api)
	ctx := context.Background()
	api.items = []Treatment{
		{ID: "a", MachineType: "Ventilator", Treatment: "Replace filter"},
		{ID: "b", MachineType: "Ventilator", Treatment: "Calibrate"},
	}
	require.NoError(t, a.View(ctx))

	require.ErrorIs(t, a.SaveEdit(ctx, "x"), ErrNothingToSave)
	require.ErrorIs(t, a.BeginEdit("3"), ErrNoSuchRow)

	require.NoError(t, a.BeginEdit("1"))
	assert.Equal(t, "a", a.Draft().ID)
	api.calls = nil
	require.NoError(t, a.SaveEdit(ctx, "Replace HEPA filter"))
	assert.Nil(t, a.Draft())
	assert.Equal(t, []string{"update", "list"}, api.calls)
	assert.Equal(t, "Replace HEPA filter", a.Items()[0].Treatment)

	api.calls = nil
	require.NoError(t, a.Delete(ctx, "2"))
	assert.Equal(t, []string{"delete", "list"}, api.calls)
	require.Len(t, a.Items(), 1)
	assert.Equal(t, ModeViewing, a.Mode())
}

func TestApp_EditRequiresSession(t *testing.T) {
	api := newFakeAPI()
	api.items = []Treatment{{ID: "a", MachineType: "Ventilator", Treatment: "x"}}
	a, _ := newTestApp(api)
	ctx := context.Background()
	require.NoError(t, a.SelectMachineType("Ventilator"))
	require.NoError(t, a.View(ctx))

	require.NoError(t, a.BeginEdit("1"))
	assert.ErrorIs(t, a.SaveEdit(ctx, "y"), ErrNotLoggedIn)
	assert.ErrorIs(t, a.Delete(ctx, "1"), ErrNotLoggedIn)
	assert.NotContains(t, api.calls, "update")
	assert.NotContains(t, api.calls, "delete")
}

func TestApp_BackClearsDraft(t *testing.T) {
	api := newFakeAPI()
	api.items = []Treatment{{ID: "a", MachineType: "Ventilator", Treatment: "x"}}
	a, _ := newTestApp(api)
	require.NoError(t, a.SelectMachineType("Ventilator"))
	require.NoError(t, a.View(context.Background()))
	require.NoError(t, a.BeginEdit("1"))

	require.NoError(t, a.Back())
	assert.Nil(t, a.Draft())
	assert.Equal(t, ModeIdle, a.Mode())
	assert.ErrorIs(t, a.Back(), ErrIllegalTransition)
}

func TestApp_Logout(t *testing.T) {
	api := newFakeAPI()
	a, _ := loggedInApp(t, api)
	require.NoError(t, a.StartAdd(context.Background()))

	require.NoError(t, a.Logout(context.Background()))
	assert.Nil(t, a.Session())
	assert.Equal(t, ModeIdle, a.Mode())
	assert.ErrorIs(t, a.Logout(context.Background()), ErrNotLoggedIn)
}

// expireSession backdates the access token and makes the server reject it.
func expireSession(a *App, api *fakeAPI) {
	api.stale[a.session.AccessToken] = true
	a.session.AccessExpires = time.Now().Add(-time.Hour)
}

func TestApp_ExpiredAccessRenewsBeforeWrite(t *testing.T) {
	api := newFakeAPI()
	a, _ := loggedInApp(t, api)
	ctx := context.Background()
	expireSession(a, api)

	require.NoError(t, a.StartAdd(ctx))
	assert.Equal(t, ModeAdding, a.Mode())
	assert.Equal(t, "acc1-tech@example.com", a.Session().AccessToken)

	api.calls = nil
	require.NoError(t, a.SaveNew(ctx, "Replace filter"))
	assert.Equal(t, []string{"create", "list"}, api.calls)
	assert.Equal(t, "acc1-tech@example.com", api.lastToken)
	assert.Equal(t, "tech@example.com", a.Session().Email)
}

func TestApp_RejectedTokenRenewsAndRetriesOnce(t *testing.T) {
	api := newFakeAPI()
	api.items = []Treatment{{ID: "a", MachineType: "Ventilator", Treatment: "x"}}
	a, _ := loggedInApp(t, api)
	ctx := context.Background()
	require.NoError(t, a.View(ctx))
	// The server stopped accepting the token before its stated expiry.
	api.stale[a.session.AccessToken] = true

	require.NoError(t, a.BeginEdit("1"))
	api.calls = nil
	require.NoError(t, a.SaveEdit(ctx, "y"))
	assert.Equal(t, []string{"update", "refresh", "update", "list"}, api.calls)
	assert.Equal(t, "y", a.Items()[0].Treatment)
}

func TestApp_ExpiredSessionSendsAddToLogin(t *testing.T) {
	api := newFakeAPI()
	a, out := loggedInApp(t, api)
	expireSession(a, api)
	delete(api.refreshOwners, a.session.RefreshToken)

	require.NoError(t, a.StartAdd(context.Background()))
	assert.Equal(t, ModeLogin, a.Mode())
	assert.Nil(t, a.Session())
	assert.Contains(t, out.String(), "session has expired")
}

func TestApp_WriteAfterSessionLostAlertsOnce(t *testing.T) {
	api := newFakeAPI()
	a, out := loggedInApp(t, api)
	ctx := context.Background()
	require.NoError(t, a.StartAdd(ctx))
	api.stale[a.session.AccessToken] = true
	delete(api.refreshOwners, a.session.RefreshToken)

	err := a.SaveNew(ctx, "Replace filter")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsAlerted(err))
	assert.Nil(t, a.Session())
	assert.Equal(t, 1, strings.Count(out.String(), "session has expired"))
	assert.Equal(t, []string{"create", "refresh"}, api.calls[len(api.calls)-2:])

	require.NoError(t, a.Cancel())
	require.NoError(t, a.StartAdd(ctx))
	assert.Equal(t, ModeLogin, a.Mode())
}

func TestApp_RenewOfflineKeepsSession(t *testing.T) {
	api := newFakeAPI()
	a, _ := loggedInApp(t, api)
	ctx := context.Background()
	expireSession(a, api)
	api.fail["refresh"] = fmt.Errorf("%w: refused", ErrNetwork)

	require.NoError(t, a.StartAdd(ctx))
	assert.Equal(t, ModeAdding, a.Mode())
	require.NotNil(t, a.Session())

	err := a.SaveNew(ctx, "Replace filter")
	require.ErrorIs(t, err, ErrNetwork)
	assert.NotNil(t, a.Session())
}

func TestApp_LogoutWithDeadSessionStillClears(t *testing.T) {
	api := newFakeAPI()
	a, out := loggedInApp(t, api)
	expireSession(a, api)

	require.NoError(t, a.Logout(context.Background()))
	assert.Nil(t, a.Session())
	assert.Equal(t, ModeIdle, a.Mode())
	assert.Contains(t, out.String(), "Logged out.")
	assert.NotContains(t, out.String(), "Logout failed.")
}
