package monitoring

import (
	"github.com/rs/zerolog/log"
)

// IntegrityAlert reports a data-integrity finding (logs for now).
func IntegrityAlert(message string, labels map[string]string) {
	e := log.Error().Str("alert", message)
	for k, v := range labels {
		e = e.Str(k, v)
	}
	e.Msg("ALERT: Data integrity issue detected")
}
