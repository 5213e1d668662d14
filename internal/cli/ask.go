// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/chat"
)

// streamPrinter writes deltas as they arrive.
type streamPrinter struct {
	w io.Writer
}

func (p streamPrinter) OnState(string, chat.State) {}

func (p streamPrinter) OnDelta(_ string, delta string) {
	fmt.Fprint(p.w, delta)
}

func (a *App) askCommand() *cobra.Command {
	var (
		image    string
		newConv  bool
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "ask [flags] <message>",
		Short: "Send one message and print the reply",
		Example: `  chatstream ask "What is a goroutine?"
  chatstream ask --image cat.png "What is in this picture?"
  chatstream ask --new "Start a fresh conversation"
  chatstream ask --no-stream "Reply in one piece"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" && image == "" {
				return errors.New("nothing to send: give a message or --image")
			}
			ctx := cmd.Context()

			// Raw output streams; on a terminal, or with --no-stream, the
			// reply is printed once complete instead.
			render := isTerminalWriter(a.out)
			var observer chat.Observer = streamPrinter{w: a.out}
			if render || noStream {
				observer = nil
			}
			svc, err := a.chatService(ctx, observer)
			if err != nil {
				return err
			}
			if newConv {
				a.store.SetActive("")
			}

			res, err := svc.Send(ctx, chat.SendInput{Text: text, ImagePath: image, NoStream: noStream})
			if err != nil {
				return err
			}
			switch {
			case render:
				st, _ := a.settings(ctx)
				fmt.Fprint(a.out, renderMarkdown(newMarkdownRenderer(st.Theme, TerminalWidth()), res.Reply))
			case noStream:
				fmt.Fprintln(a.out, res.Reply)
			default:
				fmt.Fprintln(a.out)
			}

			svc.Wait()
			if res.State == chat.StateFailed {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&image, "image", "i", "", "attach an image file")
	cmd.Flags().BoolVar(&newConv, "new", false, "start a new conversation instead of continuing the active one")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "request the whole reply in one response")
	return cmd
}
