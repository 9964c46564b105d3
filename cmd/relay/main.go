package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/relay/internal/audit"
	"github.com/ChamsBouzaiene/relay/internal/config"
	"github.com/ChamsBouzaiene/relay/internal/markup"
	"github.com/ChamsBouzaiene/relay/internal/orchestrator"
)

func main() {
	// Load .env file if it exists.
	_ = godotenv.Load()

	ctx := context.Background()

	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Working directory for the session (default: current directory)")
	stdioMode := fs.Bool("stdio", false, "Serve over the NDJSON stdio protocol")
	resumeFlag := fs.String("resume", "", "Resume a saved session by id ('last' for the most recent)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("flag parsing failed: %v", err)
	}

	// Logs go to stderr in stdio mode so they never corrupt the protocol.
	if *stdioMode {
		log.SetOutput(os.Stderr)
	}

	env, err := prepareRuntimeEnv(*dirFlag)
	if err != nil {
		if *stdioMode {
			fmt.Fprintf(os.Stderr, "FATAL: failed to prepare runtime environment: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("failed to prepare runtime environment: %v", err)
	}
	defer env.Close()

	if *resumeFlag != "" {
		var rerr error
		if *resumeFlag == "last" {
			rerr = env.Manager.ResumeLast()
		} else {
			rerr = env.Manager.Resume(*resumeFlag)
		}
		if rerr != nil {
			log.Printf("⚠️  resume failed: %v (starting fresh)", rerr)
		} else {
			log.Printf("Resumed session %s (%s)", env.Manager.Session().ID, env.Manager.Session().Title)
		}
	}

	// Pick up edits to config.json while running; only the tunables are
	// hot-swapped, provider changes need a restart.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		err := env.CfgMgr.Watch(watchCtx, func(cfg *config.Config) {
			log.Printf("Config reloaded (timeout=%s throttle=%s)", cfg.InactivityTimeout(), cfg.ThrottleInterval())
		})
		if err != nil && err != context.Canceled {
			log.Printf("⚠️  config watcher stopped: %v", err)
		}
	}()

	if *stdioMode {
		if err := runStdIO(ctx, env); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: stdio bridge failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runInteractive(ctx, env)
}

func runInteractive(ctx context.Context, env *runtimeEnv) {
	log.Printf("💬 relay ready (model: %s). /help for commands.", env.ModelName)

	s := bufio.NewScanner(os.Stdin)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Print("you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := handleSlashCommand(env, line); quit {
				return
			}
			continue
		}

		message := line
		if strings.HasPrefix(line, "!") {
			message = strings.TrimSpace(strings.TrimPrefix(line, "!"))
			env.Manager.Interrupt()
			for i := 0; i < 100 && env.Manager.IsRunning(); i++ {
				time.Sleep(20 * time.Millisecond)
			}
		}

		env.Auditor.Record("local", audit.KindMessage, env.Manager.Session().ID, message)
		response, err := env.Manager.Send(ctx, message, consoleNotifier())
		if err != nil {
			env.Auditor.Record("local", audit.KindError, env.Manager.Session().ID, err.Error())
			log.Printf("error: %v", err)
			continue
		}
		env.Auditor.Record("local", audit.KindResponse, env.Manager.Session().ID, response)
		fmt.Println()
		fmt.Println(markup.ToPlain(response))
		fmt.Println()
	}
}

func handleSlashCommand(env *runtimeEnv, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/stop":
		fmt.Printf("stop: %s\n", env.Manager.Stop())
	case "/kill":
		env.Manager.Stop()
		env.Manager.Kill()
		fmt.Println("session discarded")
	case "/sessions":
		for _, rec := range env.Manager.ListSessions() {
			fmt.Printf("  %s  %s  %s\n", rec.ID, rec.SavedAt.Format("2006-01-02 15:04"), rec.Title)
		}
	case "/resume":
		var err error
		if len(fields) > 1 {
			err = env.Manager.Resume(fields[1])
		} else {
			err = env.Manager.ResumeLast()
		}
		if err != nil {
			fmt.Printf("resume failed: %v\n", err)
		} else {
			fmt.Printf("resumed %s (%s)\n", env.Manager.Session().ID, env.Manager.Session().Title)
		}
	case "/help":
		fmt.Println("  /stop      cancel the running query")
		fmt.Println("  /kill      discard the live session")
		fmt.Println("  /sessions  list saved sessions for this directory")
		fmt.Println("  /resume    resume a saved session (id or most recent)")
		fmt.Println("  /quit      exit")
		fmt.Println("  !message   preempt the running query with a new message")
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}

// consoleNotifier prints streaming updates for the terminal. Partial text
// is skipped; the assembled response prints once at the end.
func consoleNotifier() orchestrator.Notifier {
	return orchestrator.NotifierFunc(func(_ context.Context, u orchestrator.Update) error {
		switch u.Kind {
		case orchestrator.UpdateTool:
			fmt.Printf("  ⏳ %s\n", u.Text)
		case orchestrator.UpdateToolDone:
			fmt.Printf("  %s\n", u.Text)
		case orchestrator.UpdateThinking:
			// Reasoning fragments are noisy on a terminal; keep quiet.
		}
		return nil
	})
}
