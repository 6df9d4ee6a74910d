// Command agent is a demo host: a toy web app instrumented with scaleagent,
// a load generator that calls it through a simulated proxy, and a few job
// queues with changing depth.
//
// Demo flags come first; everything after them (or after "--") is handed
// to the agent configuration, e.g.
//
//	agent -workers 8 -- -u http://localhost:8080 -t secret -r 5s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent"
	"github.com/Schera-ole/scaleagent/internal/config"
)

var demoQueues = []string{"default", "mailers"}

type demoConfig struct {
	AppAddress     string
	MetricsAddress string
	Workers        int
	RPS            int
	MaxQueueTime   time.Duration
	MaxWork        time.Duration
}

// parseDemoFlags returns the demo settings and the arguments left for the
// agent configuration.
func parseDemoFlags(args []string) (demoConfig, []string, error) {
	demo := demoConfig{}
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.StringVar(&demo.AppAddress, "addr", "localhost:8000", "address of the instrumented demo app")
	fs.StringVar(&demo.MetricsAddress, "metrics-addr", "localhost:9100", "address serving the agent's own metrics")
	fs.IntVar(&demo.Workers, "workers", 4, "concurrent load generator workers")
	fs.IntVar(&demo.RPS, "rps", 20, "simulated requests per second")
	fs.DurationVar(&demo.MaxQueueTime, "max-queue-time", 200*time.Millisecond, "upper bound of simulated proxy queue time")
	fs.DurationVar(&demo.MaxWork, "max-work", 50*time.Millisecond, "upper bound of simulated request work")
	if err := fs.Parse(args); err != nil {
		return demoConfig{}, nil, err
	}
	if demo.Workers < 1 || demo.RPS < 1 {
		return demoConfig{}, nil, errors.New("workers and rps must be positive")
	}
	return demo, fs.Args(), nil
}

// requestStartHeader renders the X-Request-Start value a proxy would set for
// a request that waited queued before reaching the app.
func requestStartHeader(now time.Time, queued time.Duration) string {
	return fmt.Sprintf("t=%d", now.Add(-queued).UnixMilli())
}

// appHandler is the instrumented demo app. work decides how long each
// request takes.
func appHandler(a *scaleagent.Agent, work func() time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := a.TrackRequest(r)
		defer done()

		time.Sleep(work())
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
}

// worker plays the proxy: each job is the time a request spent queued.
func worker(client *http.Client, url string, jobs <-chan time.Duration, logger *zap.SugaredLogger) {
	for queued := range jobs {
		request, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			logger.Errorw("error creating request", "url", url, "error", err)
			continue
		}
		request.Header.Set("X-Request-Start", requestStartHeader(time.Now(), queued))

		response, err := client.Do(request)
		if err != nil {
			logger.Debugw("demo request failed", "error", err)
			continue
		}
		io.Copy(io.Discard, response.Body)
		response.Body.Close()
	}
}

// generateLoad feeds jobs at rps until ctx ends, dropping a job when every
// worker is busy. It closes jobs on return.
func generateLoad(ctx context.Context, demo demoConfig, jobs chan<- time.Duration) {
	defer close(jobs)
	ticker := time.NewTicker(time.Second / time.Duration(demo.RPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case jobs <- rand.N(demo.MaxQueueTime + 1):
			default:
			}
		}
	}
}

// observeQueues reports a random depth for every demo queue.
func observeQueues(a *scaleagent.Agent) {
	for _, queue := range demoQueues {
		a.Observe(scaleagent.JobQueueEvent{Queue: queue, Depth: rand.Int64N(25)})
	}
}

func simulateQueues(ctx context.Context, a *scaleagent.Agent) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observeQueues(a)
		}
	}
}

func serve(server *http.Server, logger *zap.SugaredLogger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("server stopped", "address", server.Addr, "error", err)
	}
}

func main() {
	demo, agentArgs, err := parseDemoFlags(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to parse demo flags: ", err)
	}
	agentConfig, err := scaleagent.LoadConfig(agentArgs)
	if err != nil {
		log.Fatal("Failed to parse configuration: ", err)
	}
	logger, err := config.NewLogger(agentConfig.LogLevel)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	a := scaleagent.New(agentConfig, logger)
	registry := prometheus.NewRegistry()
	if err := scaleagent.RegisterMetrics(a, registry); err != nil {
		logger.Errorw("failed to register agent metrics", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(context.Background())

	appServer := &http.Server{
		Addr:              demo.AppAddress,
		Handler:           appHandler(a, func() time.Duration { return rand.N(demo.MaxWork + 1) }),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              demo.MetricsAddress,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go serve(appServer, logger)
	go serve(metricsServer, logger)

	client := &http.Client{Timeout: 5 * time.Second}
	jobs := make(chan time.Duration, demo.Workers)
	for w := 1; w <= demo.Workers; w++ {
		go worker(client, "http://"+demo.AppAddress+"/", jobs, logger)
	}
	go generateLoad(ctx, demo, jobs)
	go simulateQueues(ctx, a)

	logger.Infow(
		"Demo host running",
		"app", demo.AppAddress,
		"metrics", demo.MetricsAddress,
		"rps", demo.RPS,
		"reporting", agentConfig.ReportingEnabled(),
	)

	<-ctx.Done()
	logger.Infow("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), agentConfig.ShutdownTimeout)
	defer cancel()
	appServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	if err := a.Stop(context.Background()); err != nil {
		logger.Warnw("final report not delivered", "error", err)
	}
}
