// Package agent holds the static directory of mesh agents: canonical names,
// default ports, allowed delegation routes, and failover targets.
package agent

import (
	"fmt"
	"strings"
)

// Canonical agent names.
const (
	HumanIntake = "human-intake-agent"
	Dispatch    = "dispatch-agent"
	FireChief   = "fire-chief-agent"
	CivicAlert  = "civic-alert-agent"
	Medical     = "medical-agent"
	PoliceChief = "police-chief-agent"
	Utility     = "utility-agent"
	IoTSensor   = "iot-sensor-agent"
	Camera      = "camera-agent"
)

// ports maps canonical names to their default listen ports. Used as the
// static fallback when registry resolution fails.
var ports = map[string]int{
	HumanIntake: 9001,
	Dispatch:    9002,
	FireChief:   9003,
	CivicAlert:  9004,
	Medical:     9005,
	PoliceChief: 9006,
	Utility:     9007,
	IoTSensor:   9008,
	Camera:      9009,
}

// Normalize maps a loose agent reference to its canonical name. Underscores
// become dashes and a missing -agent suffix is appended, so "fire_chief",
// "fire-chief" and "fire-chief-agent" all resolve to the same name.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, "-agent") {
		name += "-agent"
	}
	return name
}

// Known reports whether name (after normalization) is a directory agent.
func Known(name string) bool {
	_, ok := ports[Normalize(name)]
	return ok
}

// Port returns the default port for a canonical agent name, or 0 when the
// agent is not in the directory.
func Port(name string) int {
	return ports[Normalize(name)]
}

// StaticURL returns the localhost fallback URL for an agent, or "" when the
// agent is not in the directory.
func StaticURL(name string) string {
	port, ok := ports[Normalize(name)]
	if !ok {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// Names returns all canonical agent names in no particular order.
func Names() []string {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	return names
}
