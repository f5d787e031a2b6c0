package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"strings"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/broker"
	"main/internal/executor"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/orchestrator"
	"main/internal/parser"
	"main/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	statsInterval := flag.Duration("stats-interval", time.Minute, "Pipeline stats log interval (0=disable)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Fatalf("config load failed: %v", err)
	}

	if cfg.Profile.Enable {
		profiler, err := startProfiler(cfg.Profile)
		if err != nil {
			logs.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	adapter, err := broker.New(cfg.Broker)
	if err != nil {
		logs.Fatalf("broker setup failed: %v", err)
	}
	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		logs.Fatalf("notifier setup failed: %v", err)
	}

	metrics := obs.NewMetrics()
	guard := risk.NewGuard(cfg.Risk)
	exec := executor.New(adapter, cfg.Executor, metrics)
	orch := orchestrator.New(cfg.Pipeline, parser.NewDefaultFactory(cfg.Source), guard, exec, notifier, metrics)

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		logs.Fatalf("start failed: %v", err)
	}
	logs.Infof("trader started, broker=%s source=%s", cfg.Broker.Kind, cfg.Source)

	go readAlerts(orch)
	go scheduleNewDay(orch)
	if *statsInterval > 0 {
		go logStats(metrics, exec, *statsInterval)
	}

	<-sys.Shutdown()
	logs.Info("shutdown signal received")
	if err := orch.Stop(); err != nil {
		logs.Errorf("stop failed: %v", err)
	}

	snap := metrics.Snapshot()
	logs.Infof("final stats: stages=%v risk_reasons=%v", snap.StageCounts, snap.RiskReasonCounts)
}

func startProfiler(cfg ops.ProfileConfig) (*pyroscope.Profiler, error) {
	appName := cfg.AppName
	if appName == "" {
		appName = "trader"
	}
	serverAddress := cfg.ServerAddress
	if serverAddress == "" {
		serverAddress = "http://localhost:4040"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

// readAlerts feeds stdin lines into the pipeline. Lines starting with
// "/" are operator commands; everything else is a raw alert message.
func readAlerts(orch *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var pending []string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		raw := strings.Join(pending, "\n")
		pending = pending[:0]
		orch.Ingest(raw, time.Now(), "stdin")
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "/"):
			flush()
			runCommand(orch, line)
		case strings.TrimSpace(line) == "":
			flush()
		default:
			pending = append(pending, line)
		}
	}
	flush()
}

func runCommand(orch *orchestrator.Orchestrator, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/pause":
		if err := orch.Pause(); err != nil {
			logs.Warnf("%v", err)
		}
	case "/resume":
		if err := orch.Resume(); err != nil {
			logs.Warnf("%v", err)
		}
	case "/newday":
		orch.NewDay()
	case "/blacklist":
		if len(fields) != 3 || (fields[1] != "add" && fields[1] != "del") {
			logs.Warn("usage: /blacklist add|del SYMBOL")
			return
		}
		symbol := strings.ToUpper(fields[2])
		if fields[1] == "add" {
			orch.Blacklist(symbol)
		} else {
			orch.Unblacklist(symbol)
		}
	case "/mode":
		logs.Infof("mode: %s", orch.Mode())
	case "/stop":
		reason := "operator stop"
		if len(fields) > 1 {
			reason = strings.Join(fields[1:], " ")
		}
		if err := orch.EmergencyStop(context.Background(), reason); err != nil {
			logs.Errorf("emergency stop failed: %v", err)
		}
	default:
		logs.Warnf("unknown command: %s", fields[0])
	}
}

// scheduleNewDay resets daily limits at each UTC midnight.
func scheduleNewDay(orch *orchestrator.Orchestrator) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		select {
		case <-sys.Shutdown():
			return
		case <-time.After(next.Sub(now)):
			orch.NewDay()
		}
	}
}

func logStats(metrics *obs.Metrics, exec *executor.Executor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()
			stats := exec.StatsSnapshot()
			logs.Infof("stats: stages=%v placed=%d failed=%d deduped=%d breaker=%s exec_latency=%+v",
				snap.StageCounts, stats.Placed, stats.Failed, stats.Deduped, exec.BreakerState(), snap.ExecuteLatency)
		}
	}
}
