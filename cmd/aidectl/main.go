package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rmaciel7/aide/internal/backend"
	"github.com/rmaciel7/aide/internal/config"
	"github.com/rmaciel7/aide/internal/session"
	"github.com/rmaciel7/aide/internal/tui/client"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	dayFlag := flag.String("day", "", "day to list messages for (YYYY-MM-DD, default today)")
	voiceFlag := flag.Bool("voice", false, "send as a voice prompt")
	outFlag := flag.String("out", "", "file to write tts audio to (default stdout)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Login talks to the auth service directly; everything else goes
	// through the daemon socket.
	if args[0] == "login" {
		cmdLogin(sessionName, args[1:])
		return
	}

	c := client.New(session.SocketPath(sessionName))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "messages":
		cmdMessages(ctx, c, *dayFlag, *jsonFlag)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: aidectl send <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, strings.Join(args[1:], " "), *voiceFlag)
	case "scheduled":
		sub := "list"
		if len(args) >= 2 {
			sub = args[1]
		}
		cmdScheduled(ctx, c, sub, *jsonFlag)
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: aidectl delete <conversation id>")
			os.Exit(1)
		}
		cmdDelete(ctx, c, args[1])
	case "tts":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: aidectl tts <text>")
			os.Exit(1)
		}
		cmdTTS(ctx, c, strings.Join(args[1:], " "), *outFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: aidectl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <email>            Store credentials for the session")
	fmt.Fprintln(os.Stderr, "  messages                 List one day of the conversation (--day D)")
	fmt.Fprintln(os.Stderr, "  send <text>              Send a prompt (--voice for voice mode)")
	fmt.Fprintln(os.Stderr, "  scheduled [list]         List scheduled messages")
	fmt.Fprintln(os.Stderr, "  scheduled generate       Generate today's scheduled messages")
	fmt.Fprintln(os.Stderr, "  delete <id>              Delete a conversation row")
	fmt.Fprintln(os.Stderr, "  tts <text>               Synthesize speech (--out <file>, default stdout)")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdLogin(sessionName string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aidectl login <email>")
		os.Exit(1)
	}
	email := args[0]

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fail(fmt.Errorf("load config: %w", err))
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fail(err)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		fail(err)
	}
	password = strings.TrimRight(password, "\r\n")

	auth := backend.NewAuthenticator(cfg.Auth.URL, cfg.Auth.AnonKey, session.TokenPath(sessionName))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := auth.Login(ctx, email, password); err != nil {
		fail(err)
	}
	fmt.Printf("Logged in as %s. The daemon picks the credentials up automatically.\n", email)
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:   %s\n", st.Session)
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Uptime:    %ds\n", st.UptimeSeconds)
	if st.LastSyncUnixMs > 0 {
		fmt.Printf("Last sync: %s\n", time.UnixMilli(st.LastSyncUnixMs).Format(time.RFC3339))
	} else {
		fmt.Println("Last sync: never")
	}
}

func cmdMessages(ctx context.Context, c *client.Client, day string, jsonOut bool) {
	msgs, err := c.Messages(ctx, day)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		at := time.UnixMilli(m.CreatedAtUnixMs).Format("15:04")
		name := "aide"
		if m.Role == "user" {
			name = "you"
		}
		suffix := ""
		if m.Streaming {
			suffix = " …"
		}
		fmt.Printf("%s %-4s %s%s\n", at, name, m.Body, suffix)
	}
}

func cmdSend(ctx context.Context, c *client.Client, text string, voice bool) {
	id, err := c.Send(ctx, text, voice)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Queued %s\n", id)
}

func cmdScheduled(ctx context.Context, c *client.Client, sub string, jsonOut bool) {
	switch sub {
	case "list":
		sms, err := c.Scheduled(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(sms)
			return
		}
		for _, sm := range sms {
			mark := " "
			if sm.IsDelivered {
				mark = "✓"
			}
			at := time.UnixMilli(sm.ScheduledForUnixMs).Format("2006-01-02 15:04")
			fmt.Printf("%s %s  %s\n", mark, at, sm.Content)
		}
	case "generate":
		if err := c.GenerateScheduled(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Generation requested")
	default:
		fmt.Fprintln(os.Stderr, "usage: aidectl scheduled <list|generate>")
		os.Exit(1)
	}
}

func cmdTTS(ctx context.Context, c *client.Client, text, out string) {
	audio, err := c.TTS(ctx, text)
	if err != nil {
		fail(err)
	}
	if out == "" {
		if _, err := os.Stdout.Write(audio); err != nil {
			fail(err)
		}
		return
	}
	if err := os.WriteFile(out, audio, 0644); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(audio), out)
}

func cmdDelete(ctx context.Context, c *client.Client, id string) {
	if err := c.DeleteConversation(ctx, id); err != nil {
		fail(err)
	}
	fmt.Printf("Deleted conversation %s\n", id)
}
