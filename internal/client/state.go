package client

import (
	"errors"
	"fmt"
)

// Mode is the view the client is currently in.
type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeViewing  Mode = "viewing"
	ModeAdding   Mode = "adding"
	ModeLogin    Mode = "login"
	ModeRegister Mode = "register"
)

// Event is a user action or an API outcome that may move the client to
// another mode.
type Event string

const (
	EventView          Event = "view"
	EventAdd           Event = "add"
	EventBack          Event = "back"
	EventCancel        Event = "cancel"
	EventSaved         Event = "saved"
	EventAuthenticated Event = "authenticated"
	EventRegister      Event = "register"
	EventRegistered    Event = "registered"
	EventClose         Event = "close"
	EventLogout        Event = "logout"
)

// ErrIllegalTransition is returned for an event the current mode does not accept.
var ErrIllegalTransition = errors.New("illegal transition")

// Transition returns the mode that follows ev in mode m.  It has no side
// effects; App applies the result only after the action behind ev succeeded.
func Transition(m Mode, ev Event, authenticated bool) (Mode, error) {
	if ev == EventLogout {
		return ModeIdle, nil
	}
	switch m {
	case ModeIdle:
		switch ev {
		case EventView:
			return ModeViewing, nil
		case EventAdd:
			if !authenticated {
				return ModeLogin, nil
			}
			return ModeAdding, nil
		}
	case ModeViewing:
		if ev == EventBack {
			return ModeIdle, nil
		}
	case ModeAdding:
		switch ev {
		case EventCancel, EventBack, EventSaved:
			return ModeIdle, nil
		}
	case ModeLogin:
		switch ev {
		case EventAuthenticated:
			return ModeAdding, nil
		case EventRegister:
			return ModeRegister, nil
		case EventClose:
			return ModeIdle, nil
		}
	case ModeRegister:
		switch ev {
		case EventRegistered:
			return ModeLogin, nil
		case EventClose:
			return ModeRegister, nil
		}
	}
	return m, fmt.Errorf("%w: %q in mode %s", ErrIllegalTransition, ev, m)
}
