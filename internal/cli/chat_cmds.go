// Package cli – conversation commands
//
// This file lists conversations, opens one about an item, runs the two-step
// close handshake and drives the interactive chat loop on the realtime channel.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/realtime"
	"github.com/tbourn/go-lostfound-client/internal/services"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func newThreadsCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			threads, err := app.Directory.ListThreads(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(threads) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}
			now := time.Now()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tITEM\tPEER\tSTATE\tLAST MESSAGE")
			for _, th := range threads {
				last := truncateRunes(th.LastMessageText, 40)
				if th.LastMessageAt != nil {
					last += " (" + timeAgo(*th.LastMessageAt, now) + ")"
				}
				fmt.Fprintf(tw, "%d\t%s\t#%d\t%s\t%s\n", th.ID, th.ItemTitle, th.PeerID, closeLabel(app.Handshake.State(th.ID)), last)
			}
			return tw.Flush()
		},
	}
}

func newOpenCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "open <item-id> <peer-id>",
		Short: "Get or create the conversation about an item with a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0], "item id")
			if err != nil {
				return err
			}
			peerID, err := parseID(args[1], "peer id")
			if err != nil {
				return err
			}
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			th, err := app.Directory.EnsureThread(cmd.Context(), itemID, peerID)
			if errors.Is(err, services.ErrSelfConversation) {
				return errors.New("that item is yours: you cannot message yourself")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation #%d about %q (%s)\n", th.ID, th.ItemTitle, closeLabel(th.CloseState()))
			return nil
		},
	}
}

func newCloseCmd(st *state) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "close <thread-id>",
		Short: "Ask to close a conversation; it closes once both sides ask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "thread id")
			if err != nil {
				return err
			}
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			if _, err := app.Directory.ListThreads(cmd.Context()); err != nil {
				return err
			}
			if _, ok := app.Directory.Thread(id); !ok {
				return fmt.Errorf("conversation #%d: %w", id, services.ErrUnknownThread)
			}
			in := bufio.NewReader(cmd.InOrStdin())
			return runClose(cmd.Context(), app, id, yes, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")
	return cmd
}

// runClose drives the two-step handshake.
func runClose(ctx context.Context, app *App, id int64, yes bool, in *bufio.Reader, out io.Writer) error {
	if err := app.Handshake.Begin(id); err != nil {
		fmt.Fprintf(out, "Conversation #%d is already %s.\n", id, closeLabel(app.Handshake.State(id)))
		return nil
	}
	if !yes && !confirm(in, out, "Close this conversation? You will not be able to send until it is resolved") {
		app.Handshake.Cancel(id)
		fmt.Fprintln(out, "Cancelled.")
		return nil
	}
	st, err := app.Handshake.Confirm(ctx, id)
	if err != nil && !errors.Is(err, services.ErrDirectoryStale) {
		return err
	}
	fmt.Fprintf(out, "Conversation #%d: %s\n", id, closeLabel(st))
	return nil
}

func newChatCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <thread-id>",
		Short: "Chat in a conversation (/close to close, /quit to leave)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "thread id")
			if err != nil {
				return err
			}
			app, err := st.session(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := app.Directory.ListThreads(ctx); err != nil {
				return err
			}
			self, err := app.Auth.SelfID(ctx)
			if err != nil {
				return err
			}
			ch, err := app.Enter(ctx, id)
			if err != nil {
				return err
			}
			return chatLoop(ctx, app, ch, self, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}
}

// chatLoop prints the history, then updates as they arrive, and sends each
// input line until /quit, EOF or the channel fails.
func chatLoop(ctx context.Context, app *App, ch *realtime.Channel, self int64, in *bufio.Reader, out io.Writer) error {
	w := &syncWriter{w: out}
	id := ch.ThreadID()
	w.printf("Conversation #%d (%s). /close to close, /quit to leave.\n", id, closeLabel(app.Handshake.State(id)))
	for _, e := range ch.Log().Entries() {
		w.printf("%s: %s\n", sender(e.Message, self), e.Text)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range ch.Updates() {
			switch u.Kind {
			case realtime.UpdateMessage:
				switch {
				case u.Entry == nil || u.Entry.Pending:
				case u.Entry.Failed:
					w.printf("! not delivered: %s\n", u.Entry.Text)
				case u.Entry.SenderID != self:
					w.printf("peer: %s\n", u.Entry.Text)
				}
			case realtime.UpdateError:
				w.printf("! %v\n", u.Err)
			case realtime.UpdateState:
				if u.State == realtime.StateError {
					w.printf("! connection lost: %v\n", ch.Err())
				}
			}
		}
	}()
	defer func() {
		app.Realtime.Leave()
		<-done
	}()

	for {
		line, err := readLine(in)
		if err != nil {
			return nil
		}
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/close":
			if err := runClose(ctx, app, id, false, in, w); err != nil {
				w.printf("! %v\n", err)
			}
			continue
		case strings.HasPrefix(line, "/"):
			w.printf("! unknown command %s\n", line)
			continue
		}
		if ch.State() != realtime.StateJoined {
			return fmt.Errorf("conversation #%d: %w", id, domain.ErrConversationUnavailable)
		}
		if _, err := ch.Send(ctx, line); err != nil {
			var blocked *domain.SendBlockedError
			if errors.As(err, &blocked) {
				w.printf("! cannot send: %s\n", blockedText(blocked.Reason))
				continue
			}
			w.printf("! %v\n", err)
			continue
		}
		w.printf("me: %s\n", line)
	}
}

func blockedText(r domain.BlockReason) string {
	switch r {
	case domain.ReasonClosed:
		return "the conversation is closed"
	case domain.ReasonCloseRequested:
		return "you asked to close, waiting for the other side"
	}
	return "not connected"
}
