package agent

// Route describes one allowed delegation pair and what the target handles.
// Delegation is a single parameterized path gated by this table rather than
// a distinct code path per pair.
type Route struct {
	Source      string
	Target      string
	Description string
}

var routes = []Route{
	{FireChief, Medical, "casualty triage, ambulance dispatch, and hospital coordination"},
	{FireChief, Utility, "power shutdowns, gas isolation, and water pressure management"},
	{FireChief, PoliceChief, "perimeter security, crowd control, traffic management, and emergency broadcasts"},
	{Medical, FireChief, "fire suppression, rescue operations, and hazmat response"},
	{Medical, Utility, "infrastructure safety during medical operations"},
	{Medical, PoliceChief, "scene security, crowd control, and emergency broadcasts"},
	{Utility, FireChief, "fire and hazmat emergencies related to infrastructure failures"},
	{Utility, Medical, "injuries caused by infrastructure incidents"},
	{Utility, CivicAlert, "public outage notifications and broadcasts"},
	{Utility, PoliceChief, "emergency PA broadcasts when civic alert is unavailable"},
	{PoliceChief, FireChief, "fire, hazmat, and rescue operations"},
	{PoliceChief, Medical, "casualties and ambulance dispatch"},
	{PoliceChief, Utility, "power and gas shutoffs during police operations"},
	{Dispatch, FireChief, "fire emergencies and rescue"},
	{Dispatch, Medical, "medical emergencies"},
	{Dispatch, PoliceChief, "law enforcement and security"},
	{Dispatch, Utility, "infrastructure emergencies"},
	{Camera, FireChief, "confirmed visual fire detection"},
	{Camera, PoliceChief, "fight detection, crowd control, and security incidents"},
	{IoTSensor, FireChief, "fire and smoke sensor alerts"},
	{IoTSensor, Utility, "infrastructure sensor alerts"},
}

// failover is the fixed directed backup mapping. It contains no cycles
// reachable from a single hop, and failover is attempted at most once per
// delegation, so police->fire and fire->police coexisting is safe.
var failover = map[string]string{
	Medical:     PoliceChief,
	CivicAlert:  PoliceChief,
	FireChief:   PoliceChief,
	Utility:     FireChief,
	PoliceChief: FireChief,
}

// Routes returns the delegation routes originating from source. A nil result
// means source may not delegate at all.
func Routes(source string) []Route {
	source = Normalize(source)
	var out []Route
	for _, r := range routes {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

// RouteAllowed reports whether source is permitted to delegate to target.
func RouteAllowed(source, target string) bool {
	source, target = Normalize(source), Normalize(target)
	for _, r := range routes {
		if r.Source == source && r.Target == target {
			return true
		}
	}
	return false
}

// FailoverTarget returns the configured backup for target, if any.
func FailoverTarget(target string) (string, bool) {
	backup, ok := failover[Normalize(target)]
	return backup, ok
}
