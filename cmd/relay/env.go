package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/relay/internal/agent"
	"github.com/ChamsBouzaiene/relay/internal/audit"
	"github.com/ChamsBouzaiene/relay/internal/config"
	"github.com/ChamsBouzaiene/relay/internal/orchestrator"
	"github.com/ChamsBouzaiene/relay/internal/policy"
	"github.com/ChamsBouzaiene/relay/internal/ratelimit"
	"github.com/ChamsBouzaiene/relay/internal/session"
)

type runtimeEnv struct {
	Cfg       *config.Config
	CfgMgr    *config.Manager
	Manager   *orchestrator.Manager
	Limiter   *ratelimit.Limiter
	Auditor   *audit.Log
	ModelName string
}

func (r *runtimeEnv) Close() {
	if r.Auditor != nil {
		if err := r.Auditor.Close(); err != nil {
			log.Printf("⚠️  failed to close audit log: %v", err)
		}
	}
}

func prepareRuntimeEnv(dirFlag string) (*runtimeEnv, error) {
	cfgMgr, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	// Determine working directory: flag wins over config, then cwd.
	workingDir := dirFlag
	if workingDir == "" {
		workingDir = cfg.WorkingDir
	}
	if workingDir == "" {
		workingDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	absDir, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working directory is not a valid directory: %s", absDir)
	}
	cfg.WorkingDir = absDir
	log.Printf("Working directory: %s", absDir)

	engine, modelName, err := agent.NewEngine(cfg.Provider, cfg.APIKey, cfg.Model, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Agent backend ready (model: %s)", modelName)

	index, err := defaultIndex()
	if err != nil {
		return nil, err
	}

	allowed := cfg.AllowedDirs
	if len(allowed) == 0 {
		allowed = []string{absDir}
	}

	manager := orchestrator.NewManager(engine, index, orchestrator.Config{
		Model:             modelName,
		WorkingDir:        absDir,
		AllowedDirs:       allowed,
		MaxTurns:          cfg.MaxTurns,
		InactivityTimeout: cfg.InactivityTimeout(),
		ThrottleInterval:  cfg.ThrottleInterval(),
		Thinking: policy.Thinking{
			DeepKeywords:   cfg.DeepKeywords,
			NormalKeywords: cfg.NormalKeywords,
		},
		AskUserTools: cfg.AskUserTools,
	})

	auditor := openAudit(cfg)
	limiter := ratelimit.New(cfg.RateLimitPerSec, cfg.RateLimitBurst)

	return &runtimeEnv{
		Cfg:       cfg,
		CfgMgr:    cfgMgr,
		Manager:   manager,
		Limiter:   limiter,
		Auditor:   auditor,
		ModelName: modelName,
	}, nil
}

func defaultIndex() (*session.Index, error) {
	path, err := session.DefaultIndexPath()
	if err != nil {
		return nil, err
	}
	return session.NewIndex(path), nil
}

// openAudit opens the audit database; failure disables auditing rather
// than blocking startup.
func openAudit(cfg *config.Config) *audit.Log {
	path := cfg.AuditDBPath
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			log.Printf("⚠️  auditing disabled: %v", err)
			return nil
		}
		path = filepath.Join(base, "relay", "audit.db")
	}
	auditor, err := audit.Open(path)
	if err != nil {
		log.Printf("⚠️  auditing disabled: %v", err)
		return nil
	}
	return auditor
}
