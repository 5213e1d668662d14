// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/chat"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/storage"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader wraps liner with a persistent history file.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl is one interactive session.
type repl struct {
	out   io.Writer
	svc   *chat.Service
	store *storage.Store

	// copy puts text on the clipboard.
	copy func(string) error

	mu        sync.Mutex
	streaming string // conversation being streamed into, "" when idle
	lastReply string
}

// OnState prints the reply header and footer.
func (r *repl) OnState(_ string, s chat.State) {
	switch s {
	case chat.StateAwaitingFirstByte:
		fmt.Fprint(r.out, "\n"+assistantStyle.Render("Assistant")+"\n")
	case chat.StateCompleted, chat.StateFailed:
		fmt.Fprintln(r.out)
	}
}

func (r *repl) OnDelta(_ string, delta string) {
	fmt.Fprint(r.out, delta)
}

func (a *App) chatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session. Messages go to the active
conversation; a new one is created when none is active.

Ctrl+C cancels a reply in progress. Ctrl+D or /quit exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context())
		},
	}
}

func (a *App) runChat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &repl{out: a.out, copy: clipboard.WriteAll}
	svc, err := a.chatService(ctx, r)
	if err != nil {
		return err
	}
	r.svc, r.store = svc, a.store

	// Endpoint edits apply to the next send.
	go func() {
		err := config.Watch(ctx, a.resolvedConfigPath(), a.log, a.reload)
		if err != nil {
			a.log.Debug().Err(err).Msg("config watch disabled")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if r.cancelStream() {
					fmt.Fprintln(a.errOut, "\n"+WarningStyle.Render("[Cancelled]"))
				}
			}
		}
	}()

	r.printWelcome()

	input := newLineReader()
	defer input.Close()

	for {
		line, err := input.Prompt(promptStyle.Render("> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin.
			fmt.Fprintln(a.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.handleCommand(ctx, line)
			if err != nil {
				fmt.Fprintln(a.errOut, RenderError(err))
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(ctx, chat.SendInput{Text: line}); err != nil {
			fmt.Fprintln(a.errOut, RenderError(err))
		}
	}
}

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("chatstream")+" "+DimStyle.Render(Version))
	fmt.Fprintln(r.out, RenderSeparator(40))
	if conv, ok := r.store.ActiveConversation(); ok {
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Continuing %q (%d messages)", conv.Title, len(conv.Messages))))
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands."))
	fmt.Fprintln(r.out)
}

// send runs one turn and remembers the reply for /copy.
func (r *repl) send(ctx context.Context, in chat.SendInput) error {
	if conv, ok := r.store.ActiveConversation(); ok {
		r.setStreaming(conv.ID)
	}
	defer r.setStreaming("")

	res, err := r.svc.Send(ctx, in)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastReply = res.Reply
	r.mu.Unlock()

	if res.State == chat.StateFailed {
		return res.Err
	}
	return nil
}

func (r *repl) setStreaming(id string) {
	r.mu.Lock()
	r.streaming = id
	r.mu.Unlock()
}

// cancelStream aborts the reply in progress.
func (r *repl) cancelStream() bool {
	r.mu.Lock()
	id := r.streaming
	r.mu.Unlock()
	if id == "" {
		// New conversations get their id inside Send.
		id = r.store.ActiveID()
	}
	return id != "" && r.svc.Cancel(id)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

var slashHelp = [][2]string{
	{"/new", "start a new conversation"},
	{"/list", "list conversations"},
	{"/switch <n|id>", "switch to a conversation"},
	{"/delete <n|id>", "delete a conversation"},
	{"/title <text>", "rename the active conversation"},
	{"/image <path> [text]", "send an image with optional text"},
	{"/copy", "copy the last reply to the clipboard"},
	{"/help", "show this help"},
	{"/quit", "exit"},
}

// handleCommand runs a slash command. quit is true when the session should
// end.
func (r *repl) handleCommand(ctx context.Context, input string) (quit bool, err error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(input), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		for _, h := range slashHelp {
			fmt.Fprintf(r.out, "  %s %s\n", commandStyle.Render(fmt.Sprintf("%-22s", h[0])), DimStyle.Render(h[1]))
		}

	case "/new", "/n":
		r.store.SetActive("")
		fmt.Fprintln(r.out, DimStyle.Render("New conversation; it is saved with your first message."))

	case "/list", "/l":
		printConversationList(r.out, r.store)

	case "/switch", "/s":
		conv, err := resolveConversation(r.store, arg)
		if err != nil {
			return false, err
		}
		r.store.SetActive(conv.ID)
		fmt.Fprintf(r.out, "%s %s (%d messages)\n", SuccessStyle.Render("Switched to"), conv.Title, len(conv.Messages))

	case "/delete", "/d":
		conv, err := resolveConversation(r.store, arg)
		if err != nil {
			return false, err
		}
		r.svc.Cancel(conv.ID)
		r.store.DeleteConversation(conv.ID)
		fmt.Fprintln(r.out, SuccessStyle.Render("Deleted")+" "+conv.Title)

	case "/title", "/t":
		if arg == "" {
			return false, errors.New("usage: /title <text>")
		}
		conv, ok := r.store.ActiveConversation()
		if !ok {
			return false, errors.New("no active conversation")
		}
		r.store.UpdateTitle(conv.ID, arg)
		fmt.Fprintln(r.out, SuccessStyle.Render("Renamed")+" "+arg)

	case "/image", "/i":
		path, text, _ := strings.Cut(arg, " ")
		if path == "" {
			return false, errors.New("usage: /image <path> [text]")
		}
		return false, r.send(ctx, chat.SendInput{Text: strings.TrimSpace(text), ImagePath: path})

	case "/copy", "/c":
		r.mu.Lock()
		reply := r.lastReply
		r.mu.Unlock()
		if reply == "" {
			if conv, ok := r.store.ActiveConversation(); ok {
				if msg := conv.LastAssistantMessage(); msg != nil {
					reply = msg.Text()
				}
			}
		}
		if reply == "" {
			return false, errors.New("nothing to copy")
		}
		if err := r.copy(reply); err != nil {
			return false, errors.Wrap(err, "clipboard unavailable")
		}
		fmt.Fprintln(r.out, DimStyle.Render("Copied."))

	default:
		return false, errors.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}
