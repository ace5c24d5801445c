package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/HerbHall/tvremote/internal/connection"
	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/spf13/cobra"
)

const remoteHelp = `commands:
  <button>         press a button (UP, DOWN, ENTER, VOLUP, HOME, ...)
  long <button>    long-press a button
  pin <digits>     submit the PIN shown on the TV
  cancel           abandon pairing
  buttons          list button names
  status           show the connection status
  quit             disconnect and exit`

func newRemoteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "remote [ID]",
		Short: "Connect to a saved TV and send buttons read from stdin",
		Long: `Connect to a saved TV and send buttons read from stdin, one per line.
Without an ID the most recently connected TV is used.

` + remoteHelp,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &remoteSession{conn: a.conn, out: cmd.OutOrStdout()}
			unsub := a.bus.Subscribe(event.TopicStatusChanged, r.onStatus)
			defer unsub()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else if d, ok := a.devices.MostRecent(); ok {
				id = d.ID
			}
			if id == "" {
				return connection.ErrNoRecentDevice
			}
			if _, ok := a.devices.Get(id); !ok {
				return fmt.Errorf("%w: %s", connection.ErrUnknownDevice, id)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Connect blocks through pairing, so it runs beside the input loop
			// that answers PIN prompts.
			go func() {
				if _, err := a.conn.ConnectByID(ctx, id); err != nil {
					fmt.Fprintf(r.out, "connect: %v\n", err)
				}
			}()

			err = r.run(ctx, cmd.InOrStdin())
			a.conn.Disconnect(context.WithoutCancel(ctx))
			return err
		},
	}
}

// remoteConn is the part of the connection manager a session drives.
type remoteConn interface {
	Status() models.ConnectionStatus
	SupportsPIN() bool
	SubmitPIN(ctx context.Context, pin string) bool
	CancelPairing()
	SendCommand(ctx context.Context, b models.RemoteButton) error
	SendLongPress(ctx context.Context, b models.RemoteButton) error
}

// remoteSession turns input lines into manager calls.
type remoteSession struct {
	conn remoteConn
	out  io.Writer
}

func (r *remoteSession) onStatus(_ context.Context, e event.Event) {
	p, ok := e.Payload.(event.StatusChangedPayload)
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "[%s] %s\n", p.Status.Kind, p.Status.Text())
}

func (r *remoteSession) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := r.handle(ctx, line); done {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the session should end.
func (r *remoteSession) handle(ctx context.Context, line string) bool {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(r.out, remoteHelp)
	case "buttons":
		names := make([]string, 0, len(models.AllButtons))
		for _, b := range models.AllButtons {
			names = append(names, string(b))
		}
		fmt.Fprintln(r.out, strings.Join(names, " "))
	case "status":
		fmt.Fprintln(r.out, r.conn.Status().Text())
	case "cancel":
		r.conn.CancelPairing()
	case "pin":
		if !r.conn.SupportsPIN() {
			fmt.Fprintln(r.out, "this TV does not pair with a PIN")
			return false
		}
		if !r.conn.SubmitPIN(ctx, arg) {
			fmt.Fprintln(r.out, "PIN rejected")
		}
	case "long":
		r.press(ctx, arg, true)
	default:
		r.press(ctx, verb, false)
	}
	return false
}

func (r *remoteSession) press(ctx context.Context, name string, long bool) {
	b, ok := models.ParseButton(name)
	if !ok {
		fmt.Fprintf(r.out, "unknown button %q; type \"buttons\" for the list\n", name)
		return
	}
	var err error
	if long {
		err = r.conn.SendLongPress(ctx, b)
	} else {
		err = r.conn.SendCommand(ctx, b)
	}
	switch {
	case errors.Is(err, connection.ErrNotConnected):
		fmt.Fprintln(r.out, "not connected yet")
	case errors.Is(err, connection.ErrPremiumRequired):
		fmt.Fprintf(r.out, "%s requires premium\n", b)
	case err != nil:
		fmt.Fprintf(r.out, "%s: %v\n", b, err)
	}
}
