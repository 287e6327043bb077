// Package processors holds the concrete processor implementations the
// engine registry serves. They are synthetic analysts: deterministic
// mock extractions exercising every pipeline phase, the payload kinds,
// config resolution and consolidation overrides end to end.
package processors

import (
	"time"

	"github.com/aura/underwriting/internal/engine"
)

// simulateWork blocks for the configured mock delay, honoring run
// cancellation.
func simulateWork(run *engine.Run, fallbackMS int) error {
	delay := time.Duration(run.ConfigInt("mock_delay_ms", fallbackMS)) * time.Millisecond
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-run.Context().Done():
		return engine.NewFactorExtractionError("extraction cancelled: %v", run.Context().Err())
	}
}

// stringList coerces a payload value that arrived through a JSON round
// trip into a string slice.
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
