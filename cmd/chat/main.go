// Terminal client for the lending marketplace chat: lists conversations,
// opens one at a time and streams live messages into it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/quickmoney/lendchat/internal/client"
	"github.com/quickmoney/lendchat/internal/config"
	"github.com/quickmoney/lendchat/internal/conversation"
	"github.com/quickmoney/lendchat/internal/inbox"
	"github.com/quickmoney/lendchat/internal/live"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/notify"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	dim    = color.New(color.Faint)
)

func main() {
	configPath := flag.String("config", "", "Path to client YAML config")
	verbose := flag.Bool("v", false, "Log debug output to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// alerts prints notifications inline with the chat.
var alerts = notify.Func(func(level notify.Level, message string) {
	switch level {
	case notify.LevelError:
		color.Red("[%s] %s\n", level, message)
	case notify.LevelWarning:
		yellow.Printf("[%s] %s\n", level, message)
	default:
		cyan.Printf("[%s] %s\n", level, message)
	}
})

type app struct {
	cfg      *config.Client
	inbox    *inbox.Aggregator
	current  *conversation.Session
	stopTail context.CancelFunc
}

func run(ctx context.Context, cfg *config.Client) error {
	api := client.New(cfg.Server, cfg.Token)

	channel := live.New(live.Config{
		URL:         cfg.WebSocketURL(),
		Token:       cfg.Token,
		MaxAttempts: cfg.Live.MaxAttempts,
		BaseDelay:   cfg.Live.BaseDelay,
		MaxDelay:    cfg.Live.MaxDelay,
		Jitter:      cfg.Live.Jitter,
	})
	defer channel.Close()
	if err := channel.Connect(ctx); err != nil {
		alerts.Notify(notify.LevelWarning, "Live updates unavailable. Showing saved messages only.")
	}

	agg, err := inbox.New(inbox.Config{
		UserID: cfg.UserID,
		Lister: api,
		Events: channel,
		Sessions: conversation.Deps{
			History: api,
			Creator: api,
			Channel: channel,
		},
		Notifier: alerts,
	})
	if err != nil {
		return err
	}
	_ = agg.Start(ctx)

	a := &app{cfg: cfg, inbox: agg}
	defer a.closeCurrent()

	green.Printf("Signed in as %s on %s\n", cfg.UserID, cfg.Server)
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	a.printInbox()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		a.prompt()

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
				return
			}
			if err := scanner.Err(); err != nil {
				errCh <- err
				return
			}
			errCh <- io.EOF
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}
		a.handle(ctx, input)
	}
}

func (a *app) prompt() {
	if a.current != nil {
		cyan.Printf("[%s]> ", a.current.Peer())
		return
	}
	fmt.Print("> ")
}

func (a *app) handle(ctx context.Context, input string) {
	switch {
	case input == "/help":
		printHelp()
	case input == "/inbox":
		if err := a.inbox.Refresh(ctx); err == nil {
			a.printInbox()
		}
	case strings.HasPrefix(input, "/open"):
		arg := strings.TrimSpace(strings.TrimPrefix(input, "/open"))
		n, err := strconv.Atoi(arg)
		convs := a.inbox.Conversations()
		if err != nil || n < 1 || n > len(convs) {
			yellow.Println("Usage: /open <number from /inbox>")
			return
		}
		a.open(ctx, convs[n-1])
	case strings.HasPrefix(input, "/with"):
		peer := strings.TrimSpace(strings.TrimPrefix(input, "/with"))
		if peer == "" {
			yellow.Println("Usage: /with <user id>")
			return
		}
		a.open(ctx, models.ConversationSummary{OtherUser: &models.Counterpart{ID: peer}})
	case input == "/close":
		a.closeCurrent()
		a.printInbox()
	case strings.HasPrefix(input, "/"):
		yellow.Printf("Unknown command %s. Try /help.\n", input)
	default:
		if a.current == nil {
			yellow.Println("No conversation open. Use /open <n> or /with <user id>.")
			return
		}
		// the tail goroutine prints the message once it lands in the view
		_, _ = a.current.Send(ctx, input)
	}
}

func (a *app) open(ctx context.Context, summary models.ConversationSummary) {
	a.closeCurrent()

	s, err := a.inbox.Open(summary)
	if err != nil {
		return
	}
	if err := s.WaitReady(ctx); err != nil {
		s.Close()
		return
	}

	name := s.Peer()
	if summary.OtherUser != nil && summary.OtherUser.Name != "" {
		name = summary.OtherUser.Name
	}
	green.Printf("Chat with %s\n", name)
	if s.HistoryOnly() {
		dim.Println("(live updates off)")
	}

	tailCtx, stop := context.WithCancel(ctx)
	a.current = s
	a.stopTail = stop
	go tail(tailCtx, s)
}

func (a *app) closeCurrent() {
	if a.current == nil {
		return
	}
	a.stopTail()
	a.current.Close()
	a.current = nil
	a.stopTail = nil
}

// tail prints messages as they join the view.
func tail(ctx context.Context, s *conversation.Session) {
	printed := 0
	for {
		msgs := s.Messages()
		for _, m := range msgs[printed:] {
			printMessage(s.Self(), m)
		}
		printed = len(msgs)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.Updates():
			if !ok {
				return
			}
		}
	}
}

func printMessage(self string, m models.Message) {
	ts := m.Timestamp.Local().Format("15:04")
	if m.SenderID == self {
		dim.Printf("%s ", ts)
		green.Printf("you: ")
	} else {
		dim.Printf("%s ", ts)
		cyan.Printf("%s: ", m.SenderID)
	}
	fmt.Println(m.Text)
}

func (a *app) printInbox() {
	convs := a.inbox.Conversations()
	if len(convs) == 0 {
		dim.Println("No conversations yet. Start one with /with <user id>.")
		return
	}
	for i, c := range convs {
		name := "(unknown user)"
		if c.OtherUser != nil {
			name = c.OtherUser.DisplayName()
		}
		cyan.Printf("%2d. %-20s ", i+1, name)
		dim.Println(c.Preview(40))
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /inbox          refresh and list conversations")
	fmt.Println("  /open <n>       open conversation n from the list")
	fmt.Println("  /with <user id> open a conversation with a user")
	fmt.Println("  /close          close the open conversation")
	fmt.Println("  /quit           exit")
	fmt.Println("Anything else is sent to the open conversation.")
}
