package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/logging"
	"github.com/ent0n29/solace/internal/session"
)

func cmdChat() *cli.Command {
	var sessionID string

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the assistant in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Usage:       "Session identifier",
				Value:       session.DefaultID,
				Destination: &sessionID,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return goerr.Wrap(err, "failed to load config")
			}
			built, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					logging.From(ctx).Error("cleanup failed", "error", err)
				}
			}()

			sess, err := built.Sessions.GetOrCreate(sessionID)
			if err != nil {
				return err
			}
			return chatLoop(ctx, built.Orchestrator, built.Sessions, sess.ID, cfg.Dialogue.Disclaimer, c.Root().Reader, c.Root().Writer)
		},
	}
}

// maxLineBytes matches the HTTP request body limit.
const maxLineBytes = 1 << 20

type turnRunner interface {
	HandleTurn(ctx context.Context, sessionID, message string) (dialogue.Response, error)
}

type sessionResetter interface {
	Reset(ctx context.Context, sessionID string) (*session.Session, error)
}

// chatLoop reads one message per line until EOF or /quit. /clear resets the session.
func chatLoop(ctx context.Context, turns turnRunner, sessions sessionResetter, sessionID, disclaimer string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "%s\nType /clear to start over, /quit to leave.\n\n", disclaimer)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if _, err := sessions.Reset(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation history cleared.")
			continue
		}

		resp, err := turns.HandleTurn(ctx, sessionID, line)
		if err != nil {
			logging.From(ctx).Warn("turn failed", "error", err)
			fmt.Fprintln(out, "solace> Something went wrong. Please try again.")
			continue
		}
		fmt.Fprintf(out, "solace> %s\n\n", resp.Reply)
	}
}
