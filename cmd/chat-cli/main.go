package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/client"
	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/logging"
	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/reveal"
	chatservice "github.com/zhouzirui/onthisday/backend/internal/service/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
)

const help = `Commands:
  /today             ask about today's date
  /date YYYY-MM-DD   ask about a specific date
  /retry             re-send the last question after an error
  /new               start a new chat
  /list              list saved chats
  /open N            switch to chat N from /list
  /delete N          delete chat N from /list
  /quit              exit`

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	apiURL := flag.String("api", cfg.Session.APIURL, "chat API base URL")
	storePath := flag.String("store", defaultStorePath(), "chat history file")
	timeout := flag.Duration("timeout", 20*time.Second, "per-request timeout")
	flag.Parse()

	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "error"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := store.NewFileStore(*storePath)
	if err != nil {
		log.Fatalf("failed to open chat history: %v", err)
	}

	app := &app{
		ctx:       ctx,
		store:     history,
		transport: client.New(*apiURL, *timeout, logger),
		opts: chatservice.Options{
			Retry: chatservice.RetryPolicy{Attempts: cfg.Session.RetryAttempts, Delay: cfg.Session.RetryDelay},
			Reveal: reveal.Config{
				Tick:   cfg.Session.RevealTick,
				Chunk:  cfg.Session.RevealChunk,
				Settle: cfg.Session.RevealSettle,
			},
			Logger: logger,
		},
		logger: logger,
	}
	app.open(store.Restore(ctx, history, logger))
	defer app.close()

	fmt.Println("On This Day: ask what happened on any date. Type /help for commands.")
	app.run(bufio.NewScanner(os.Stdin))
}

type app struct {
	ctx       context.Context
	store     store.Store
	transport chatservice.Transport
	opts      chatservice.Options
	logger    *zap.Logger

	ctrl        *chatservice.Controller
	unsubscribe func()
	listed      []chat.Session
}

func (a *app) open(session chat.Session) {
	a.close()
	a.ctrl = chatservice.NewController(session, a.transport, a.store, a.opts)
	r := newRenderer(os.Stdout)
	a.unsubscribe = a.ctrl.Subscribe(r.render)
	fmt.Printf("\n== %s ==\n", session.Title)
	r.replay(session.Messages)
}

func (a *app) close() {
	if a.ctrl == nil {
		return
	}
	a.unsubscribe()
	a.ctrl.Close()
	a.ctrl = nil
}

func (a *app) run(scanner *bufio.Scanner) {
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if a.ctx.Err() != nil {
			return
		}

		if strings.HasPrefix(line, "/") {
			if quit := a.command(line); quit {
				return
			}
			continue
		}
		a.submit(line)
	}
}

func (a *app) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(help)
	case "/today":
		a.submit(chat.DateQuestion(time.Now(), false))
	case "/date":
		day, err := time.Parse("2006-01-02", arg)
		if err != nil {
			fmt.Println("usage: /date YYYY-MM-DD")
			return false
		}
		a.submit(chat.DateQuestion(day, true))
	case "/retry":
		a.report(a.ctrl.Retry(a.ctx))
		a.ctrl.Wait()
	case "/new":
		session := chat.NewSession(time.Now())
		if err := a.store.Put(a.ctx, session); err != nil {
			a.logger.Warn("failed to save new session", zap.Error(err))
		}
		a.open(session)
	case "/list":
		a.list()
	case "/open", "/delete":
		idx, ok := a.pick(arg)
		if !ok {
			return false
		}
		target := a.listed[idx]
		if name == "/open" {
			a.open(target)
			return false
		}
		if err := a.store.Delete(a.ctx, target.ID); err != nil {
			fmt.Printf("failed to delete: %v\n", err)
			return false
		}
		fmt.Printf("deleted %q\n", target.Title)
		if target.ID == a.ctrl.Snapshot().Session.ID {
			a.open(store.Restore(a.ctx, a.store, a.logger))
		}
	default:
		fmt.Println("unknown command, try /help")
	}
	return false
}

func (a *app) submit(content string) {
	fmt.Printf("You: %s\n", content)
	if err := a.ctrl.Submit(a.ctx, content); err != nil {
		a.report(err)
		return
	}
	a.ctrl.Wait()
}

func (a *app) report(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func (a *app) list() {
	sessions, err := a.store.List(a.ctx)
	if err != nil {
		fmt.Printf("failed to list chats: %v\n", err)
		return
	}
	a.listed = sessions
	current := a.ctrl.Snapshot().Session.ID
	for i, s := range sessions {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		fmt.Printf("%s %d. %s (%d messages, %s)\n", marker, i+1, s.Title, len(s.Messages), s.LastUpdated.Local().Format("Jan 2 15:04"))
	}
}

func (a *app) pick(arg string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(arg, "%d", &n); err != nil || n < 1 || n > len(a.listed) {
		fmt.Println("pick a number from /list")
		return 0, false
	}
	return n - 1, true
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "onthisday-sessions.json"
	}
	return filepath.Join(dir, "onthisday", "sessions.json")
}
