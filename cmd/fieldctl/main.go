package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/fieldops/internal/api"
	"github.com/matheus3301/fieldops/internal/client"
	"github.com/matheus3301/fieldops/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 15*time.Second, "deadline for a single command")
	flag.Usage = printUsage
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &ctl{client: c, json: *jsonFlag}

	// watch streams until interrupted; everything else is a single call.
	if args[0] == "watch" {
		cli.watch(ctx, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	switch args[0] {
	case "status":
		cli.status(ctx)
	case "login":
		cli.login(ctx, args[1:])
	case "logout":
		cli.simple(ctx, api.MethodLogout, nil, "Logged out.")
	case "chat":
		cli.chat(ctx, args[1:])
	case "track":
		cli.track(ctx, args[1:])
	case "wake":
		cli.flushResult(ctx, api.MethodWake, nil)
	case "query":
		cli.query(ctx, args[1:])
	case "group":
		cli.group(ctx, args[1:])
	case "task":
		cli.task(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fieldctl [--profile <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                               Show account, chat and tracker state")
	fmt.Fprintln(os.Stderr, "  login [--admin] <username>           Log in (password from FIELDOPS_PASSWORD or stdin)")
	fmt.Fprintln(os.Stderr, "  logout                               Close chat, stop tracking, forget tokens")
	fmt.Fprintln(os.Stderr, "  chat open <group|personal> <id>      Open a chat socket")
	fmt.Fprintln(os.Stderr, "  chat close                           Close the chat socket")
	fmt.Fprintln(os.Stderr, "  chat send [--reply <id>] <text>      Send a text message")
	fmt.Fprintln(os.Stderr, "  chat edit <message-id> <text>        Edit a message")
	fmt.Fprintln(os.Stderr, "  chat typing <on|off>                 Send a typing indicator")
	fmt.Fprintln(os.Stderr, "  chat list                            Print cached messages")
	fmt.Fprintln(os.Stderr, "  chat online [user-id...]             Refresh online status")
	fmt.Fprintln(os.Stderr, "  track start [user-id]                Start location tracking")
	fmt.Fprintln(os.Stderr, "  track stop                           Stop location tracking")
	fmt.Fprintln(os.Stderr, "  track flush [--force]                Deliver queued locations")
	fmt.Fprintln(os.Stderr, "  wake                                 Flush queued locations if online")
	fmt.Fprintln(os.Stderr, "  query <resource> [id]                Read backend data")
	fmt.Fprintln(os.Stderr, "  group create <name> <member-id...>   Create a chat group")
	fmt.Fprintln(os.Stderr, "  task create [flags] <title>          Create a task")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                       Stream daemon events")
}
