// Command chatctl is a small command line client for the chat server.
//
// It drives the same REST and WebSocket endpoints as a browser would.
// Writes need a token: sign in with POST /auth/login (or /auth/signup) and
// pass the returned token with --token, or set CHAT_TOKEN.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/samber/lo"

	"github.com/sakif/chef-chat/internal/model"
)

const chatctlVersion = "0.1.0"

const usage = `Chat control.

Usage:
    chatctl channels [--url=<url>] [--token=<token>]
    chatctl create-channel [--url=<url>] [--token=<token>] <name>
    chatctl send [--url=<url>] [--token=<token>] <channel_id> <text>
    chatctl watch [--url=<url>] [--token=<token>] [--count=<count>] <channel_id>
    chatctl -h | --help
    chatctl --version

Options:
    -h --help         Show this screen.
    --version         Show version.
    --url=<url>       Server base URL [default: http://localhost:8080].
    --token=<token>   JWT from /auth/login or /auth/signup. Defaults to $CHAT_TOKEN.
    --count=<count>   Exit after this many deliveries.`

var errLog = log.New(os.Stderr, "chatctl: ", 0)

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], chatctlVersion)
	if err != nil {
		errLog.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, opts, os.Stdout); err != nil {
		errLog.Fatal(err)
	}
}

func dispatch(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	baseURL, _ := opts.String("--url")
	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("CHAT_TOKEN")
	}
	c := newClient(baseURL, token)

	if ok, _ := opts.Bool("channels"); ok {
		return listChannels(ctx, c, out)
	} else if ok, _ := opts.Bool("create-channel"); ok {
		name, _ := opts.String("<name>")
		return createChannel(ctx, c, out, name)
	} else if ok, _ := opts.Bool("send"); ok {
		channelID, _ := opts.String("<channel_id>")
		text, _ := opts.String("<text>")
		return send(ctx, c, out, channelID, text)
	} else if ok, _ := opts.Bool("watch"); ok {
		channelID, _ := opts.String("<channel_id>")
		count := 0
		if raw, _ := opts.String("--count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return fmt.Errorf("--count must be a positive number, got %q", raw)
			}
			count = n
		}
		return c.watch(ctx, channelID, count, func(seq uint64, fresh []model.Message) {
			printDelivery(out, seq, fresh)
		})
	}
	return nil
}

func listChannels(ctx context.Context, c *client, out io.Writer) error {
	channels, err := c.channels(ctx)
	if err != nil {
		return err
	}
	lines := lo.Map(channels, func(ch model.Channel, _ int) string {
		return ch.ID + "\t" + ch.Name
	})
	if len(lines) > 0 {
		fmt.Fprintln(out, strings.Join(lines, "\n"))
	}
	return nil
}

func createChannel(ctx context.Context, c *client, out io.Writer, name string) error {
	id, err := c.createChannel(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func send(ctx context.Context, c *client, out io.Writer, channelID, text string) error {
	id, err := c.send(ctx, channelID, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func printDelivery(out io.Writer, seq uint64, fresh []model.Message) {
	fmt.Fprintf(out, "# seq=%d new=%d\n", seq, len(fresh))
	for _, m := range fresh {
		fmt.Fprintf(out, "%s  %s: %s\n", m.CreatedAt.Format("15:04:05"), m.AuthorID, m.Content)
	}
}
