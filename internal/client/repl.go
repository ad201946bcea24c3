package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// getSimpleText and getPassword point at the interactive input helpers and
// are swapped in tests.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
)

// Run starts the command loop on the App's input.  It returns on EOF, on
// "exit"/"quit" or when ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	printlnFn("Machine treatments. Type 'help' for commands.")
	runREPL(ctx, a)
}

// runREPL reads one command per line and dispatches it to a.  Command
// errors are printed and never end the loop.
//
//	idle:     types, select <n|name>, view, add, all
//	viewing:  list, refresh, edit <n>, save [text], delete <n>, back
//	adding:   select <n|name>, save [text], cancel, back
//	login:    submit, register, close
//	register: submit, close
//	always:   help, logout, exit | quit
func runREPL(ctx context.Context, a *App) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(prompt(a))
		line, err := a.reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return
		}
		cmd, arg := splitCommand(line)
		if cmd == "" {
			continue
		}
		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}
		if err := dispatch(ctx, a, cmd, arg); err != nil && !IsAlerted(err) {
			printlnFn("Error:", err)
		}
	}
}

func dispatch(ctx context.Context, a *App, cmd, arg string) error {
	switch cmd {
	case "help":
		printlnFn(helpFor(a.Mode()))
	case "types":
		for i, mt := range MachineTypes {
			printlnFn(fmt.Sprintf("%2d. %s", i+1, mt))
		}
	case "select":
		return a.SelectMachineType(arg)
	case "view":
		return a.View(ctx)
	case "refresh":
		if err := a.Refresh(ctx); err != nil {
			return err
		}
		printList(a)
	case "list":
		printList(a)
	case "all":
		items, err := a.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, t := range items {
			printlnFn(fmt.Sprintf("[%s] %s", t.MachineType, t.Treatment))
		}
	case "add":
		if err := a.StartAdd(ctx); err != nil {
			return err
		}
		if a.Mode() == ModeLogin {
			printlnFn("Please log in to add treatments (submit | register | close).")
		}
	case "save":
		return save(ctx, a, arg)
	case "edit":
		if err := a.BeginEdit(arg); err != nil {
			return err
		}
		printlnFn(fmt.Sprintf("Editing #%d: %s", a.Draft().Index+1, a.Draft().Text))
	case "delete":
		if err := a.Delete(ctx, arg); err != nil {
			return err
		}
		printList(a)
	case "back":
		return a.Back()
	case "cancel":
		return a.Cancel()
	case "register":
		return a.OpenRegister()
	case "close":
		return a.Close()
	case "submit":
		return submit(ctx, a)
	case "logout":
		return a.Logout(ctx)
	default:
		printlnFn("Unknown command:", cmd)
	}
	return nil
}

func save(ctx context.Context, a *App, text string) error {
	if m := a.Mode(); m != ModeAdding && m != ModeViewing {
		return ErrWrongMode
	}
	if a.Mode() == ModeViewing && a.Draft() == nil {
		return ErrNothingToSave
	}
	if text == "" {
		var err error
		if text, err = getSimpleText(a.reader, "Treatment", a.out); err != nil {
			return err
		}
	}
	switch a.Mode() {
	case ModeAdding:
		return a.SaveNew(ctx, text)
	case ModeViewing:
		if err := a.SaveEdit(ctx, text); err != nil {
			return err
		}
		printList(a)
		return nil
	}
	return ErrWrongMode
}

func submit(ctx context.Context, a *App) error {
	mode := a.Mode()
	if mode != ModeLogin && mode != ModeRegister {
		return ErrWrongMode
	}
	email, err := getSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	if mode == ModeLogin {
		return a.Login(ctx, email, password)
	}
	return a.Register(ctx, email, password)
}

func printList(a *App) {
	items := a.Items()
	if len(items) == 0 {
		printlnFn("No treatments for " + a.MachineType() + ".")
		return
	}
	for i, t := range items {
		printlnFn(fmt.Sprintf("%2d. %s", i+1, t.Treatment))
	}
}

func prompt(a *App) string {
	p := "treatments [" + string(a.Mode())
	if mt := a.MachineType(); mt != "" {
		p += " | " + mt
	}
	if s := a.Session(); s != nil {
		p += " | " + s.Email
	}
	return p + "]>"
}

func splitCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func helpFor(m Mode) string {
	switch m {
	case ModeViewing:
		return "Commands: list, refresh, edit <n>, save [text], delete <n>, back, logout, exit"
	case ModeAdding:
		return "Commands: select <n|name>, save [text], cancel, back, logout, exit"
	case ModeLogin:
		return "Commands: submit, register, close, exit"
	case ModeRegister:
		return "Commands: submit, close, exit"
	default:
		return "Commands: types, select <n|name>, view, add, all, logout, exit"
	}
}
