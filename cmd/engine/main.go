// Command engine hosts one Research State Machine instance (QUERY, MEDIA,
// or INSIGHT) behind the small cross-engine search HTTP surface the
// orchestrator's SearchFanout and the Supervisor's health check use
// (§4.4, §4.5, §4.10). Which engine role to host, and which address to
// bind, are selected by flag/env the same way the teacher's cmd/webui
// reads WEB_UI_HOST/WEB_UI_PORT.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pulseforum/internal/config"
	"pulseforum/internal/engineworker"
	"pulseforum/internal/llm"
	"pulseforum/internal/logging"
	"pulseforum/internal/research"
	"pulseforum/internal/searchclient"
)

func main() {
	engineFlag := flag.String("engine", os.Getenv("ENGINE_NAME"), "engine to host: query | media | insight")
	addrFlag := flag.String("addr", os.Getenv("ENGINE_ADDR"), "address to listen on, e.g. 127.0.0.1:8101")
	flag.Parse()

	engine, err := parseEngine(*engineFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	addr := *addrFlag
	if addr == "" {
		addr = "127.0.0.1:8101"
	}

	cfg := config.Load()
	log := logging.For("engine").WithField("engine", string(engine))

	logsDir := firstNonEmpty(os.Getenv("ENGINE_LOG_DIR"), "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create log directory")
	}
	// File and directory names use the lower-case engine name
	// (logs/query.log, reports/query), as cmd/orchestrator expects.
	name := strings.ToLower(string(engine))
	logWriter, err := engineworker.NewLogWriter(filepath.Join(logsDir, name+".log"), string(engine))
	if err != nil {
		log.WithError(err).Fatal("failed to open engine wire-contract log")
	}

	reportsDir := filepath.Join(firstNonEmpty(os.Getenv("REPORTS_DIR"), "reports"), name)
	searcher := searchclient.NewTavilySearcher(cfg.TavilyAPIKey)
	gateway := llm.NewGateway(cfg)
	machine := research.NewMachine(gateway, searcher, cfg.MaxReflections, cfg.MaxParagraphs, reportsDir)

	worker := engineworker.New(engine, machine, logWriter)

	srv := &http.Server{Addr: addr, Handler: worker.Handler()}

	go func() {
		log.WithField("addr", addr).Info("engine worker listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown error")
	} else {
		log.Info("engine worker stopped")
	}
}

func parseEngine(name string) (research.Engine, error) {
	switch name {
	case "query", "QUERY":
		return research.EngineQuery, nil
	case "media", "MEDIA":
		return research.EngineMedia, nil
	case "insight", "INSIGHT":
		return research.EngineInsight, nil
	default:
		return "", fmt.Errorf("engine: unknown engine %q (want query|media|insight)", name)
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
