package report

import (
	"os"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"

	models "github.com/Schera-ole/scaleagent/internal/model"
)

// hostInfo is replaced in tests.
var hostInfo = host.Info

// ResolveIdentity describes the current process. instanceID, when set, is the
// platform's container name (a Heroku dyno, a Render instance) and doubles as
// the agent id. Otherwise the host id is used, and a random id as a last
// resort so two agents never share one.
func ResolveIdentity(instanceID, version string) models.AgentInfo {
	info := models.AgentInfo{
		ID:        instanceID,
		Version:   version,
		PID:       os.Getpid(),
		Container: instanceID,
	}

	if stat, err := hostInfo(); err == nil && stat != nil {
		info.Hostname = stat.Hostname
		if info.ID == "" && stat.HostID != "" {
			info.ID = stat.HostID
		}
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	return info
}
