// Command orchestrator binds the orchestrator's HTTP surface
// (§4.10: /api/system/*, /api/engines/*, /api/search, /api/report,
// /api/config) to HOST:PORT from config.Load(), wiring together the
// Supervisor (C5), Forum Log/Moderator (C7), Report Compositor (C9), and
// Readiness Gate (C8). Shutdown follows the teacher's cmd/webui pattern:
// signal.Notify + srv.Shutdown(ctx), with every supervised engine worker
// stopped first.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pulseforum/internal/compositor"
	"pulseforum/internal/config"
	"pulseforum/internal/forum"
	"pulseforum/internal/llm"
	"pulseforum/internal/logging"
	"pulseforum/internal/orchestrator"
	"pulseforum/internal/readiness"
	"pulseforum/internal/supervisor"
)

func main() {
	cfg := config.Load()
	log := logging.For("orchestrator")

	dataDir := firstNonEmpty(os.Getenv("DATA_DIR"), ".")
	logsDir := filepath.Join(dataDir, "logs")
	reportsDir := filepath.Join(dataDir, "reports")
	forumLogPath := filepath.Join(logsDir, "forum.log")
	baselinePath := filepath.Join(logsDir, "report_baseline.json")
	templateDir := filepath.Join(dataDir, "templates")
	outputDir := filepath.Join(dataDir, "final_reports")

	for _, dir := range []string{logsDir, reportsDir, templateDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithError(err).WithField("dir", dir).Fatal("failed to create data directory")
		}
	}

	engineBinary := firstNonEmpty(os.Getenv("ENGINE_BINARY"), "./engine")
	engines := []orchestrator.EngineDef{
		{Name: "query", Addr: "127.0.0.1:8101", Cmd: engineBinary, Args: []string{"-engine", "query", "-addr", "127.0.0.1:8101"}, LogPath: filepath.Join(logsDir, "query.log")},
		{Name: "media", Addr: "127.0.0.1:8102", Cmd: engineBinary, Args: []string{"-engine", "media", "-addr", "127.0.0.1:8102"}, LogPath: filepath.Join(logsDir, "media.log")},
		{Name: "insight", Addr: "127.0.0.1:8103", Cmd: engineBinary, Args: []string{"-engine", "insight", "-addr", "127.0.0.1:8103"}, LogPath: filepath.Join(logsDir, "insight.log")},
	}

	engineDirs := map[string]string{}
	for _, e := range engines {
		engineDirs[e.Name] = filepath.Join(reportsDir, e.Name)
		if err := os.MkdirAll(engineDirs[e.Name], 0o755); err != nil {
			log.WithError(err).Fatal("failed to create engine report directory")
		}
	}

	forumLog := forum.NewLog(forumLogPath)
	gateway := llm.NewGateway(cfg)
	moderator := forum.NewModerator(forumLog, gateway)
	gate := readiness.New(baselinePath, forumLogPath)

	comp := &compositor.Compositor{
		Readiness:    gate,
		EngineDirs:   engineDirs,
		ForumLogPath: forumLogPath,
		TemplateDir:  templateDir,
		OutputDir:    outputDir,
		LLM:          gateway,
	}

	store := config.NewStore()
	sup := supervisor.New()

	orch := orchestrator.New(engines, sup, forumLog, moderator, comp, store)

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: orch.Handler()}

	go func() {
		log.WithField("addr", addr).Info("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sup.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown error")
	} else {
		log.Info("orchestrator stopped")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
