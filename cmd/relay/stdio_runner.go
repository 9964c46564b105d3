package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/relay/internal/audit"
	"github.com/ChamsBouzaiene/relay/internal/orchestrator"
	"github.com/ChamsBouzaiene/relay/internal/protocol"
	"github.com/ChamsBouzaiene/relay/internal/ratelimit"
	"github.com/ChamsBouzaiene/relay/internal/safety"
)

func runStdIO(ctx context.Context, env *runtimeEnv) error {
	log.Println("🔌 Starting stdio bridge (--stdio)")
	runner := newStdIORunner(os.Stdin, os.Stdout, env)
	runner.emitEvent(protocol.NewStatusEvent("", "ready", "stdio protocol ready"))
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	manager *orchestrator.Manager
	limiter *ratelimit.Limiter
	auditor *audit.Log
	env     *runtimeEnv
}

func newStdIORunner(in io.Reader, out io.Writer, env *runtimeEnv) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &stdioRunner{
		scanner: scanner,
		writer:  bufio.NewWriter(out),
		events:  make(chan protocol.Event, 256),
		manager: env.Manager,
		limiter: env.Limiter,
		auditor: env.Auditor,
		env:     env,
	}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(ctx, errCh)

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				r.limiter.Sweep()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(r.events)
			return <-errCh
		default:
		}

		if !r.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		// Handle each command asynchronously so a cancel_request can land
		// while a user_message is still streaming.
		go func(l string) {
			if err := r.handleLine(ctx, l); err != nil {
				log.Printf("stdio command error: %v", err)
			}
		}(line)
	}

	if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.emitEvent(protocol.NewErrorEvent("", fmt.Sprintf("stdin error: %v", err), "protocol_error"))
		close(r.events)
		return <-errCh
	}

	close(r.events)
	return <-errCh
}

func (r *stdioRunner) flushEvents(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errCh <- nil
			return
		case ev, ok := <-r.events:
			if !ok {
				if err := r.writer.Flush(); err != nil {
					errCh <- err
					return
				}
				errCh <- nil
				return
			}
			if err := r.writeEvent(ev); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.writer.Flush()
}

func (r *stdioRunner) emitEvent(ev protocol.Event) {
	select {
	case r.events <- ev:
	default:
		log.Printf("stdio: dropping event %s due to full buffer", ev.GetType())
	}
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) error {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent("", err.Error(), "invalid_command"))
		return err
	}

	switch c := cmd.(type) {
	case protocol.UserMessageCommand:
		return r.handleUserMessage(ctx, c)

	case protocol.CancelRequestCommand:
		result := r.manager.Stop()
		r.auditor.Record(c.Sender, audit.KindStop, r.manager.Session().ID, string(result))
		r.emitEvent(protocol.NewCancelledEvent(r.manager.Session().ID, string(result)))
		return nil

	case protocol.KillSessionCommand:
		id := r.manager.Session().ID
		r.manager.Stop()
		r.manager.Kill()
		r.auditor.Record(c.Sender, audit.KindKill, id, "")
		r.emitEvent(protocol.NewStatusEvent("", "session_killed", id))
		return nil

	case protocol.ResumeSessionCommand:
		var rerr error
		if c.SessionID == "" {
			rerr = r.manager.ResumeLast()
		} else {
			rerr = r.manager.Resume(c.SessionID)
		}
		if rerr != nil {
			r.emitEvent(protocol.NewErrorEvent(c.SessionID, rerr.Error(), "resume_error"))
			return rerr
		}
		sess := r.manager.Session()
		r.auditor.Record(c.Sender, audit.KindResume, sess.ID, sess.Title)
		r.emitEvent(protocol.NewStatusEvent(sess.ID, "session_resumed", sess.Title))
		return nil

	case protocol.ListSessionsCommand:
		records := r.manager.ListSessions()
		summaries := make([]protocol.SessionSummary, 0, len(records))
		for _, rec := range records {
			summaries = append(summaries, protocol.SessionSummary{
				SessionID:  rec.ID,
				Title:      rec.Title,
				SavedAt:    rec.SavedAt.Format(time.RFC3339),
				WorkingDir: rec.WorkingDir,
			})
		}
		r.emitEvent(protocol.NewSessionListEvent(summaries))
		return nil

	case protocol.GetConfigCommand:
		r.emitEvent(protocol.NewConfigLoadedEvent(map[string]string{
			"provider":          r.env.Cfg.Provider,
			"model":             r.env.ModelName,
			"working_directory": r.env.Cfg.WorkingDir,
		}))
		return nil

	default:
		r.emitEvent(protocol.NewErrorEvent("", fmt.Sprintf("unhandled command type %s", cmd.GetType()), "invalid_command"))
		return nil
	}
}

func (r *stdioRunner) handleUserMessage(ctx context.Context, c protocol.UserMessageCommand) error {
	if !r.limiter.Allow(c.Sender) {
		r.emitEvent(protocol.NewErrorEvent("", "rate limit exceeded, retry shortly", "rate_limited"))
		return nil
	}

	message := c.Message
	urgent := strings.HasPrefix(message, "!")
	if urgent {
		message = strings.TrimSpace(strings.TrimPrefix(message, "!"))
		result := r.manager.Interrupt()
		r.auditor.Record(c.Sender, audit.KindInterrupt, r.manager.Session().ID, string(result))
		// Give the preempted query a moment to unwind before opening the
		// next stream; Send itself still guards against overlap.
		for i := 0; i < 100 && r.manager.IsRunning(); i++ {
			time.Sleep(20 * time.Millisecond)
		}
	}

	r.auditor.Record(c.Sender, audit.KindMessage, r.manager.Session().ID, message)

	response, err := r.manager.Send(ctx, message, r.notifier())
	sessID := r.manager.Session().ID
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		r.auditor.Record(c.Sender, audit.KindStop, sessID, "pending stop consumed")
		r.emitEvent(protocol.NewCancelledEvent(sessID, "stopped before start"))
		return nil
	case errors.Is(err, orchestrator.ErrQueryInFlight):
		r.emitEvent(protocol.NewErrorEvent(sessID, err.Error(), "busy"))
		return nil
	case err != nil:
		kind := "backend_error"
		auditKind := audit.KindError
		var blocked *safety.BlockedError
		if errors.As(err, &blocked) {
			kind = "blocked"
			auditKind = audit.KindBlocked
		}
		r.auditor.Record(c.Sender, auditKind, sessID, err.Error())
		r.emitEvent(protocol.NewErrorEvent(sessID, err.Error(), kind))
		return err
	}

	r.auditor.Record(c.Sender, audit.KindResponse, sessID, response)
	return nil
}

// notifier bridges lifecycle updates onto the NDJSON event stream. All
// writes go through the buffered event channel, so ordered updates stay
// ordered and fire-and-forget ones never block the stream.
func (r *stdioRunner) notifier() orchestrator.Notifier {
	return orchestrator.NotifierFunc(func(ctx context.Context, u orchestrator.Update) error {
		sessID := r.manager.Session().ID
		switch u.Kind {
		case orchestrator.UpdateThinking:
			r.emitEvent(protocol.NewThinkingEvent(sessID, u.Text))
		case orchestrator.UpdateText:
			r.emitEvent(protocol.NewAssistantTextEvent(sessID, u.Text, u.SegmentID, false))
		case orchestrator.UpdateSegmentEnd:
			r.emitEvent(protocol.NewAssistantTextEvent(sessID, u.Text, u.SegmentID, true))
		case orchestrator.UpdateTool:
			r.emitEvent(protocol.NewToolEvent(sessID, u.Text, "started", nil, ""))
		case orchestrator.UpdateToolDone:
			success := !strings.HasPrefix(u.Text, "❌")
			r.emitEvent(protocol.NewToolEvent(sessID, u.Text, "completed", &success, ""))
		case orchestrator.UpdateDone:
			usage := r.manager.Session().LastUsage
			in, out := 0, 0
			if usage != nil {
				in, out = usage.InputTokens, usage.OutputTokens
			}
			r.emitEvent(protocol.NewDoneEvent(sessID, "", in, out))
		}
		return nil
	})
}
