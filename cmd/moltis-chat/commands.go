package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhubby/moltis-sub001/pkg/app"
	"github.com/zhubby/moltis-sub001/pkg/authflow"
	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
	"github.com/zhubby/moltis-sub001/pkg/session"
)

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// connect builds and starts the client core, waiting for the first open.
func connect(ctx context.Context, renderer session.Renderer) (*app.App, error) {
	cfg := configFrom(ctx)
	a, err := app.New(cfg.gatewayConfig(), renderer)
	if err != nil {
		return nil, err
	}
	a.Start()

	deadline := time.Now().Add(10 * time.Second)
	for a.ConnState().Get() != gateway.StateOpen {
		if time.Now().After(deadline) {
			a.Close()
			return nil, errors.Errorf("gateway %s not reachable", cfg.Gateway.URL)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return a, nil
}

// nopRenderer satisfies session.Renderer for commands that never switch.
type nopRenderer struct{}

func (nopRenderer) Clear()                 {}
func (nopRenderer) Append(session.Message) {}
func (nopRenderer) ShowWelcome()           {}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), nopRenderer{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.FetchSessions(cmd.Context()); err != nil {
				return err
			}
			for _, node := range a.Sessions().Tree() {
				label := node.Session.Label
				if label == "" {
					label = node.Session.Key
				}
				fmt.Printf("%s%s  (%s, %d messages)\n",
					strings.Repeat("  ", node.Depth), label, node.Session.Key, node.Session.MessageCount)
			}
			return nil
		},
	}
}

// stdoutRenderer prints messages role-prefixed, the way the web view lists
// them.
type stdoutRenderer struct{}

func (stdoutRenderer) Clear() {
	fmt.Println("----")
}

func (stdoutRenderer) Append(msg session.Message) {
	prefix := "  "
	switch msg.Role {
	case session.RoleUser:
		prefix = "> "
	case session.RoleToolResult:
		prefix = "* "
	}
	fmt.Printf("%s%s\n", prefix, msg.Content)
}

func (stdoutRenderer) ShowWelcome() {
	fmt.Println("(no messages yet)")
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [session-key]",
		Short: "Chat on a session; reads lines from stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := session.MainKey
			if len(args) == 1 {
				key = args[0]
			}
			a, err := connect(cmd.Context(), stdoutRenderer{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.ConnState().Subscribe(func(s gateway.ConnState) {
				if s != gateway.StateOpen {
					fmt.Println("(reconnecting...)")
				}
			})
			if err := a.SwitchSession(cmd.Context(), key); err != nil {
				return err
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if text == "/quit" {
					return nil
				}
				if text == "/abort" {
					o := a.Call(cmd.Context(), protocol.MethodChatAbort, map[string]any{"key": key})
					if !o.OK {
						fmt.Printf("! %s\n", o.Err.Error())
					}
					continue
				}
				o := a.SendMessage(cmd.Context(), text)
				if !o.OK {
					fmt.Printf("! %s\n", o.Err.Error())
					continue
				}
				usage := a.Usage().Snapshot()
				log.Debug().Int("input_tokens", usage.InputTokens).Int("output_tokens", usage.OutputTokens).Msg("usage")
			}
			return scanner.Err()
		},
	}
}

func newForkCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "fork <session-key>",
		Short: "Fork a session into a child session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), nopRenderer{})
			if err != nil {
				return err
			}
			defer a.Close()

			childKey, err := a.Sessions().Fork(cmd.Context(), args[0], label)
			if err != nil {
				return err
			}
			fmt.Println(childKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label for the forked session")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), nopRenderer{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.FetchSessions(cmd.Context()); err != nil {
				return err
			}
			return a.DeleteSession(cmd.Context(), args[0])
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Authorize a provider via its device flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), nopRenderer{})
			if err != nil {
				return err
			}
			defer a.Close()

			flow := authflow.New(a, args[0])
			res := flow.Run(cmd.Context(), func(url string) {
				fmt.Printf("Open %s to authorize, waiting...\n", url)
			})
			switch res.State {
			case authflow.StateCompleted:
				fmt.Println("authorized")
				return nil
			case authflow.StateTimedOut:
				return errors.New("authorization timed out")
			default:
				return res.Err
			}
		},
	}
}
