package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// healthCheck is the Consul agent check definition registered alongside a
// service.
type healthCheck struct {
	HTTP                           string `json:"HTTP"`
	Interval                       string `json:"Interval"`
	Timeout                        string `json:"Timeout"`
	DeregisterCriticalServiceAfter string `json:"DeregisterCriticalServiceAfter"`
}

type registration struct {
	ID      string      `json:"ID"`
	Name    string      `json:"Name"`
	Tags    []string    `json:"Tags"`
	Address string      `json:"Address"`
	Port    int         `json:"Port"`
	Check   healthCheck `json:"Check"`
}

// RegistrationOptions carry the health-check intervals advertised to the
// registry.
type RegistrationOptions struct {
	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	DeregisterAfter time.Duration
}

func serviceID(name string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", name, hostname)
}

// Register advertises this agent in the registry with an HTTP health check.
// Failures are logged and swallowed: without a registry the mesh runs on
// static routing.
func (r *Resolver) Register(ctx context.Context, name string, port int, opts RegistrationOptions) {
	if r.baseURL == "" {
		return
	}

	payload := registration{
		ID:      serviceID(name),
		Name:    name,
		Tags:    []string{"respondmesh"},
		Address: "localhost",
		Port:    port,
		Check: healthCheck{
			HTTP:                           fmt.Sprintf("http://localhost:%d/health", port),
			Interval:                       formatDuration(opts.HealthInterval),
			Timeout:                        formatDuration(opts.HealthTimeout),
			DeregisterCriticalServiceAfter: formatDuration(opts.DeregisterAfter),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		r.baseURL+"/v1/agent/service/register", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("registry unavailable, using static routing", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Warn("service registration rejected", "agent", name, "status", resp.StatusCode)
		return
	}
	r.log.Info("service registered", "agent", name, "port", port)
}

// Deregister removes this agent's registration. Best-effort.
func (r *Resolver) Deregister(ctx context.Context, name string) {
	if r.baseURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		r.baseURL+"/v1/agent/service/deregister/"+serviceID(name), nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
