// Package filter applies the configured allow/deny rules to validated
// device payloads before they reach the transformer.
package filter

// Config holds the three rule sets evaluated, in order, by Filter.Apply.
type Config struct {
	DropStates    []string
	DropDeviceIDs []string
	KeepDeviceIDs []string
}

// Filter is a stateless predicate over device payloads.
type Filter struct {
	dropStates    map[string]struct{}
	dropDeviceIDs map[string]struct{}
	keepDeviceIDs map[string]struct{}
}

// New builds a Filter from Config.
func New(cfg Config) *Filter {
	return &Filter{
		dropStates:    toSet(cfg.DropStates),
		dropDeviceIDs: toSet(cfg.DropDeviceIDs),
		keepDeviceIDs: toSet(cfg.KeepDeviceIDs),
	}
}

// Apply evaluates the filter chain against a device payload. It returns the
// payload unchanged when it passes, or nil when it should be dropped.
//
// Evaluated in order: drop_states → drop_device_ids → keep_device_ids.
// A missing connection status never triggers the drop_states rule.
func (f *Filter) Apply(device map[string]interface{}) map[string]interface{} {
	if status, ok := connectionStatus(device); ok {
		if _, drop := f.dropStates[status]; drop {
			return nil
		}
	}

	id, _ := device["id"].(string)

	if _, drop := f.dropDeviceIDs[id]; drop {
		return nil
	}

	if len(f.keepDeviceIDs) > 0 {
		if _, keep := f.keepDeviceIDs[id]; !keep {
			return nil
		}
	}

	return device
}

// connectionStatus safely extracts services.rtk.connectionStatus, reporting
// ok=false when any segment of the path is absent or not a string.
func connectionStatus(device map[string]interface{}) (string, bool) {
	services, ok := device["services"].(map[string]interface{})
	if !ok {
		return "", false
	}
	rtk, ok := services["rtk"].(map[string]interface{})
	if !ok {
		return "", false
	}
	status, ok := rtk["connectionStatus"].(string)
	if !ok {
		return "", false
	}
	return status, true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
