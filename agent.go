package scaleagent

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent/internal/adapter"
	"github.com/Schera-ole/scaleagent/internal/agent"
	"github.com/Schera-ole/scaleagent/internal/config"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/reporter"
)

type (
	// Agent is one collection and reporting engine.
	Agent = agent.Agent

	// Config is the resolved agent configuration.
	Config = config.AgentConfig

	Event            = adapter.Event
	RequestEvent     = adapter.RequestEvent
	JobQueueEvent    = adapter.JobQueueEvent
	ConcurrencyEvent = adapter.ConcurrencyEvent
	Phase            = adapter.Phase

	Measurement = models.Measurement
	MetricName  = models.MetricName

	State = reporter.State
)

const (
	PhaseStart = adapter.PhaseStart
	PhaseEnd   = adapter.PhaseEnd
)

const (
	RequestQueueTime = models.RequestQueueTime
	ApplicationTime  = models.ApplicationTime
	JobQueueDepth    = models.JobQueueDepth
	InFlightRequests = models.InFlightRequests
	Utilization      = models.Utilization
)

// Version of the agent.
const Version = agent.Version

// New creates an agent. Call Start to begin reporting and Stop at shutdown.
func New(cfg Config, logger *zap.SugaredLogger) *Agent {
	return agent.New(cfg, logger)
}

// DefaultConfig returns the defaults, with reporting unconfigured.
func DefaultConfig() Config {
	return config.DefaultAgentConfig()
}

// LoadConfig resolves the configuration from args, the SCALEAGENT_*
// environment and the optional YAML file named by -c or SCALEAGENT_CONFIG.
func LoadConfig(args []string) (Config, error) {
	return config.NewAgentConfig(args)
}

// RegisterMetrics exposes the agent's own counters on reg.
func RegisterMetrics(a *Agent, reg prometheus.Registerer) error {
	return a.Stats().Register(reg)
}
