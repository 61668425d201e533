package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/fieldops/internal/api"
	"github.com/matheus3301/fieldops/internal/client"
	grpcstatus "google.golang.org/grpc/status"
)

// EnvPassword supplies the login password non-interactively.
const EnvPassword = "FIELDOPS_PASSWORD"

type ctl struct {
	client *client.Client
	json   bool
}

func (c *ctl) call(ctx context.Context, method string, in map[string]any) map[string]any {
	resp, err := c.client.Call(ctx, method, in)
	if err != nil {
		fail(err)
	}
	return resp
}

// simple runs a call and prints msg, or the raw reply under --json.
func (c *ctl) simple(ctx context.Context, method string, in map[string]any, msg string) {
	resp := c.call(ctx, method, in)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Println(msg)
}

func (c *ctl) status(ctx context.Context) {
	resp := c.call(ctx, api.MethodGetStatus, nil)
	if c.json {
		outputJSON(resp)
		return
	}
	account := object(resp["account"])
	chat := object(resp["chat"])
	tracker := object(resp["tracker"])

	fmt.Printf("Profile: %v\n", resp["profile"])
	fmt.Printf("Uptime:  %v\n", time.Duration(number(resp["uptime_ms"]))*time.Millisecond)
	fmt.Printf("Online:  %v\n", resp["online"])
	if account["logged_in"] == true {
		fmt.Printf("Account: %v (id %d)", orDash(account["username"]), int64(number(account["user_id"])))
		if account["token_expired"] == true {
			fmt.Print(" [token expired]")
		}
		fmt.Println()
	} else {
		fmt.Println("Account: not logged in")
	}
	if chat["connected"] == true {
		fmt.Printf("Chat:    %v/%d %v (%d cached)\n", chat["kind"], int64(number(chat["id"])), orDash(chat["name"]), int64(number(chat["messages"])))
	} else {
		fmt.Println("Chat:    closed")
	}
	fmt.Printf("Tracker: %v", tracker["state"])
	if r, ok := tracker["reason"].(string); ok && r != "" {
		fmt.Printf(" (%s)", r)
	}
	if ms := number(tracker["interval_ms"]); ms > 0 {
		fmt.Printf(" every %v", time.Duration(ms)*time.Millisecond)
	}
	fmt.Printf(", %d pending\n", int64(number(tracker["pending"])))
}

func (c *ctl) login(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	admin := fs.Bool("admin", false, "log in through the admin endpoint")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		usage("fieldctl login [--admin] <username>")
	}

	password := os.Getenv(EnvPassword)
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fail(fmt.Errorf("read password: %w", err))
		}
		password = strings.TrimRight(line, "\r\n")
	}

	resp := c.call(ctx, api.MethodLogin, map[string]any{
		"username": fs.Arg(0),
		"password": password,
		"admin":    *admin,
	})
	if c.json {
		outputJSON(resp)
		return
	}
	user := object(resp["user"])
	fmt.Printf("Logged in as %v (id %d)\n", orDash(user["username"]), int64(number(user["id"])))
}

func (c *ctl) chat(ctx context.Context, args []string) {
	if len(args) == 0 {
		usage("fieldctl chat <open|close|send|edit|typing|list|online>")
	}
	switch args[0] {
	case "open":
		if len(args) < 3 {
			usage("fieldctl chat open <group|personal> <id> [name]")
		}
		in := map[string]any{"kind": args[1], "id": parseID(args[2])}
		if len(args) > 3 {
			in["name"] = strings.Join(args[3:], " ")
		}
		c.simple(ctx, api.MethodOpenChat, in, "Chat opened.")
	case "close":
		c.simple(ctx, api.MethodCloseChat, nil, "Chat closed.")
	case "send":
		fs := flag.NewFlagSet("chat send", flag.ExitOnError)
		reply := fs.Int64("reply", 0, "parent message id")
		_ = fs.Parse(args[1:])
		if fs.NArg() == 0 {
			usage("fieldctl chat send [--reply <id>] <text>")
		}
		in := map[string]any{"content": strings.Join(fs.Args(), " ")}
		if *reply > 0 {
			in["parent_id"] = *reply
		}
		c.simple(ctx, api.MethodSendMessage, in, "Sent.")
	case "edit":
		if len(args) < 3 {
			usage("fieldctl chat edit <message-id> <text>")
		}
		c.simple(ctx, api.MethodEditMessage, map[string]any{
			"message_id": parseID(args[1]),
			"content":    strings.Join(args[2:], " "),
		}, "Edit sent.")
	case "typing":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			usage("fieldctl chat typing <on|off>")
		}
		c.simple(ctx, api.MethodSetTyping, map[string]any{"typing": args[1] == "on"}, "Typing "+args[1]+".")
	case "list":
		c.listMessages(ctx)
	case "online":
		ids := make([]any, 0, len(args)-1)
		for _, a := range args[1:] {
			ids = append(ids, parseID(a))
		}
		c.simple(ctx, api.MethodRefreshOnline, map[string]any{"personal_ids": ids}, "Online status requested; see `fieldctl watch chat.online`.")
	default:
		fmt.Fprintf(os.Stderr, "unknown chat subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func (c *ctl) listMessages(ctx context.Context) {
	resp := c.call(ctx, api.MethodListMessages, nil)
	if c.json {
		outputJSON(resp)
		return
	}
	if resp["connected"] != true {
		fmt.Println("No chat open.")
		return
	}
	msgs, _ := resp["messages"].([]any)
	for _, raw := range msgs {
		m := object(raw)
		sender := orDash(m["sender_username"])
		if sender == "-" {
			sender = strconv.FormatInt(int64(number(m["sender"])), 10)
		}
		flags := ""
		if m["is_edited"] == true {
			flags += " (edited)"
		}
		if m["is_deleted"] == true {
			flags += " (deleted)"
		}
		fmt.Printf("[%d] %v %s: %v%s\n", int64(number(m["id"])), m["timestamp"], sender, m["content"], flags)
	}
	if typing, _ := resp["typing"].([]any); len(typing) > 0 {
		fmt.Printf("typing: %v\n", typing)
	}
}

func (c *ctl) track(ctx context.Context, args []string) {
	if len(args) == 0 {
		usage("fieldctl track <start|stop|flush>")
	}
	switch args[0] {
	case "start":
		in := map[string]any{}
		if len(args) > 1 {
			in["user_id"] = parseID(args[1])
		}
		c.simple(ctx, api.MethodStartTracking, in, "Tracking started.")
	case "stop":
		c.simple(ctx, api.MethodStopTracking, nil, "Tracking stopped.")
	case "flush":
		fs := flag.NewFlagSet("track flush", flag.ExitOnError)
		force := fs.Bool("force", false, "ignore retry backoff")
		_ = fs.Parse(args[1:])
		c.flushResult(ctx, api.MethodFlushLocations, map[string]any{"force": *force})
	default:
		fmt.Fprintf(os.Stderr, "unknown track subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func (c *ctl) flushResult(ctx context.Context, method string, in map[string]any) {
	resp := c.call(ctx, method, in)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent: %d, failed: %d, remaining: %d\n",
		int64(number(resp["sent"])), int64(number(resp["failed"])), int64(number(resp["remaining"])))
}

func (c *ctl) query(ctx context.Context, args []string) {
	if len(args) == 0 {
		usage("fieldctl query <groups|group_messages|tasks|users|admin_users|announcements|me|profile> [id]")
	}
	in := map[string]any{"resource": args[0]}
	if len(args) > 1 {
		in["id"] = parseID(args[1])
	}
	// Query results are backend documents; JSON is the only useful rendering.
	outputJSON(c.call(ctx, api.MethodQuery, in))
}

func (c *ctl) group(ctx context.Context, args []string) {
	if len(args) < 3 || args[0] != "create" {
		usage("fieldctl group create <name> <member-id...>")
	}
	members := make([]any, 0, len(args)-2)
	for _, a := range args[2:] {
		members = append(members, parseID(a))
	}
	resp := c.call(ctx, api.MethodCreateGroup, map[string]any{"name": args[1], "members": members})
	outputJSON(resp)
}

func (c *ctl) task(ctx context.Context, args []string) {
	if len(args) == 0 || args[0] != "create" {
		usage("fieldctl task create [--assign <id>] [--due <date>] [--desc <text>] [--status <s>] <title>")
	}
	fs := flag.NewFlagSet("task create", flag.ExitOnError)
	assign := fs.Int64("assign", 0, "assignee user id")
	due := fs.String("due", "", "due date (YYYY-MM-DD)")
	desc := fs.String("desc", "", "description")
	st := fs.String("status", "", "initial status")
	_ = fs.Parse(args[1:])
	if fs.NArg() == 0 {
		usage("fieldctl task create [--assign <id>] [--due <date>] [--desc <text>] [--status <s>] <title>")
	}
	in := map[string]any{"title": strings.Join(fs.Args(), " ")}
	if *assign > 0 {
		in["assigned_to"] = *assign
	}
	if *due != "" {
		in["due_date"] = *due
	}
	if *desc != "" {
		in["description"] = *desc
	}
	if *st != "" {
		in["status"] = *st
	}
	outputJSON(c.call(ctx, api.MethodCreateTask, in))
}

func (c *ctl) watch(ctx context.Context, args []string) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	err := c.client.Watch(ctx, prefix, func(evt map[string]any) error {
		if c.json {
			raw, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		}
		at := time.UnixMilli(int64(number(evt["occurred_at_unix_ms"]))).Format("15:04:05.000")
		payload := ""
		if p, ok := evt["payload"]; ok && p != nil {
			raw, _ := json.Marshal(p)
			payload = " " + string(raw)
		}
		fmt.Printf("%s %v%s\n", at, evt["kind"], payload)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	if st, ok := grpcstatus.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", st.Message(), st.Code())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func usage(line string) {
	fmt.Fprintln(os.Stderr, "usage: "+line)
	os.Exit(1)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "error: invalid id %q\n", s)
		os.Exit(1)
	}
	return id
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}

func orDash(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "-"
}
