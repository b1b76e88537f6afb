package webhook

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

// EventKind is the closed set of platform events this service reacts to.
// Unrecognized event strings parse to KindUnknown and are handled as an
// explicit no-op, never an error.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindInstalled
	KindUninstalled
	KindPlanUpdated
)

func (k EventKind) String() string {
	switch k {
	case KindInstalled:
		return "app.installed"
	case KindUninstalled:
		return "app.uninstalled"
	case KindPlanUpdated:
		return "app.plan.updated"
	default:
		return "unknown"
	}
}

// Event is one decoded webhook delivery.
type Event struct {
	Kind         EventKind
	CompanyID    string
	AccessToken  string
	ExperienceID string
	Plan         model.Plan
}

type envelope struct {
	Event string `json:"event"`
	Data  struct {
		CompanyID    string `json:"company_id"`
		AccessToken  string `json:"access_token"`
		ExperienceID string `json:"experience_id"`
		Plan         string `json:"plan"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook body. A recognized event with
// missing required fields is an error; an unrecognized event is not.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode webhook body: %w", err)
	}

	e := Event{
		CompanyID:    env.Data.CompanyID,
		AccessToken:  env.Data.AccessToken,
		ExperienceID: env.Data.ExperienceID,
		Plan:         model.ParsePlan(env.Data.Plan),
	}

	switch env.Event {
	case "app.installed":
		e.Kind = KindInstalled
		if e.CompanyID == "" {
			return Event{}, fmt.Errorf("%s: missing company_id", env.Event)
		}
		if e.AccessToken == "" {
			return Event{}, fmt.Errorf("%s: missing access_token", env.Event)
		}
	case "app.uninstalled":
		e.Kind = KindUninstalled
		if e.CompanyID == "" {
			return Event{}, fmt.Errorf("%s: missing company_id", env.Event)
		}
	case "app.plan.updated":
		e.Kind = KindPlanUpdated
		if e.CompanyID == "" {
			return Event{}, fmt.Errorf("%s: missing company_id", env.Event)
		}
		if env.Data.Plan == "" {
			return Event{}, fmt.Errorf("%s: missing plan", env.Event)
		}
	default:
		e.Kind = KindUnknown
	}

	return e, nil
}
