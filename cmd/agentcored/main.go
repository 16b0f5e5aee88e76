// Command agentcored wires the core packages together into one runnable
// process: a model.Client adapter, the SubAgentPool, the EventCoordinator,
// the FastModeOrchestrator, the optional idle-agent reaper, and the
// gateway's HTTP/WebSocket operational surface. It plays the role goa-ai's
// own cmd/demo plays for its runtime: a thin, flag-configured reference
// harness exercising the library end-to-end rather than a service meant to
// be deployed as-is.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"goa.design/agentcore/adapters/anthropic"
	"goa.design/agentcore/adapters/openai"
	"goa.design/agentcore/internal/config"
	"goa.design/agentcore/internal/gateway"
	"goa.design/agentcore/internal/ids"
	"goa.design/agentcore/internal/model"
	"goa.design/agentcore/internal/modelclient/stub"
	"goa.design/agentcore/internal/orchestrator"
	"goa.design/agentcore/internal/pool"
	"goa.design/agentcore/internal/reaper"
	"goa.design/agentcore/internal/stream"
	"goa.design/agentcore/internal/telemetry"
)

func main() {
	var (
		addrF            = flag.String("addr", ":8088", "HTTP/WebSocket listen address")
		providerF        = flag.String("provider", "stub", "model provider: anthropic, openai, or stub (offline demo)")
		fastModelF       = flag.String("fast-model", "", "model id for the FAST tier")
		midModelF        = flag.String("mid-model", "", "model id for the SMART_MID tier")
		highModelF       = flag.String("high-model", "", "model id for the SMART_HIGH tier")
		maxConcurrentF   = flag.Int("max-concurrent-agents", 0, "cap on concurrently spawned agents (0 = unlimited)")
		reapIdleAfterF   = flag.Duration("reap-idle-after", 0, "terminate DONE/ERROR agents idle longer than this (0 disables)")
		submitRateLimitF = flag.Float64("submit-rate-limit", 0, "submit() calls allowed per second (0 disables)")
		submitBurstF     = flag.Int("submit-burst", 5, "submit() token bucket burst size")
		dbgF             = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOTelMetrics()
	tracer := telemetry.NewOTelTracer()

	client, err := buildModelClient(*providerF, *fastModelF, *midModelF, *highModelF)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to build model client"})
		os.Exit(1)
	}

	cfg := config.Options{
		MaxConcurrentAgents: *maxConcurrentF,
		ReapIdleAfter:       *reapIdleAfterF,
	}.WithDefaults()

	idGen := ids.New()
	coord := stream.New(cfg.EventBufferSize)
	p := pool.New(pool.Options{
		Config:  cfg,
		Client:  client,
		Coord:   coord,
		IDs:     idGen,
		Metrics: metrics,
	})
	orch := orchestrator.New(orchestrator.Options{Pool: p, Coord: coord, IDs: idGen, Config: cfg, Tracer: tracer})

	rp := reaper.New(reaper.Options{Pool: p, IdleAfter: cfg.ReapIdleAfter, Logger: logger})
	stopReaper := rp.Start(ctx)
	defer stopReaper()

	gw := gateway.New(gateway.Options{
		Pool:            p,
		Orchestrator:    orch,
		Coordinator:     coord,
		IDs:             idGen,
		Logger:          logger,
		SubmitRateLimit: *submitRateLimitF,
		SubmitBurst:     *submitBurstF,
	})
	srv := gateway.NewServer(gw, *addrF)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "addr", V: *addrF}, log.KV{K: "msg", V: "agentcored listening"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-sigCtx.Done():
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "server error"})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gw.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "graceful shutdown failed"})
	}
}

// buildModelClient constructs the model.Client backing every spawned agent
// session. provider selects which adapter to use; "stub" replays a fixed
// script and requires no credentials, for running the harness offline.
func buildModelClient(provider, fastModel, midModel, highModel string) (model.Client, error) {
	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for -provider=anthropic")
		}
		return anthropic.NewFromAPIKey(apiKey, anthropic.Options{
			FastModel: fastModel, MidModel: midModel, HighModel: highModel,
		})
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for -provider=openai")
		}
		return openai.NewFromAPIKey(apiKey, openai.Options{
			FastModel: fastModel, MidModel: midModel, HighModel: highModel,
		})
	case "stub", "":
		return &stub.Client{
			Script: []model.Event{
				stub.TextDelta("this is the offline demo provider; pass -provider=anthropic or -provider=openai for a live model"),
				stub.Result(),
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
