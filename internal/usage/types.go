package usage

// Counters holds one value per tracked dimension. Storage is in MB.
type Counters struct {
	APICalls    int     `json:"apiCalls"`
	Exports     int     `json:"exports"`
	TeamMembers int     `json:"teamMembers"`
	Storage     float64 `json:"storage"`
	Reports     int     `json:"reports"`
}

type Percentages struct {
	APICalls    float64 `json:"apiCalls"`
	Exports     float64 `json:"exports"`
	TeamMembers float64 `json:"teamMembers"`
	Storage     float64 `json:"storage"`
	Reports     float64 `json:"reports"`
}

type Metrics struct {
	Current    Counters    `json:"current"`
	Limits     Counters    `json:"limits"`
	Percentage Percentages `json:"percentage"`
}

type TriggerType string

const (
	TriggerAPILimit     TriggerType = "api_limit"
	TriggerExportLimit  TriggerType = "export_limit"
	TriggerTeamLimit    TriggerType = "team_limit"
	TriggerStorageLimit TriggerType = "storage_limit"
	TriggerReportLimit  TriggerType = "report_limit"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Trigger is an upgrade prompt derived from current usage
type Trigger struct {
	Type       TriggerType `json:"type"`
	Current    float64     `json:"current"`
	Limit      float64     `json:"limit"`
	Percentage float64     `json:"percentage"`
	Message    string      `json:"message"`
	Priority   Priority    `json:"priority"`
}

// LimitsUpdate changes only the non-nil limits
type LimitsUpdate struct {
	APICalls    *int     `json:"apiCalls,omitempty"`
	Exports     *int     `json:"exports,omitempty"`
	TeamMembers *int     `json:"teamMembers,omitempty"`
	Storage     *float64 `json:"storage,omitempty"`
	Reports     *int     `json:"reports,omitempty"`
}

// Free plan defaults
func DefaultLimits() Counters {
	return Counters{
		APICalls:    1000,
		Exports:     5,
		TeamMembers: 1,
		Storage:     100,
		Reports:     3,
	}
}

func initialUsage() Counters {
	return Counters{TeamMembers: 1}
}

func percent(current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return current * 100 / limit
}

func percentages(current, limits Counters) Percentages {
	return Percentages{
		APICalls:    percent(float64(current.APICalls), float64(limits.APICalls)),
		Exports:     percent(float64(current.Exports), float64(limits.Exports)),
		TeamMembers: percent(float64(current.TeamMembers), float64(limits.TeamMembers)),
		Storage:     percent(current.Storage, limits.Storage),
		Reports:     percent(float64(current.Reports), float64(limits.Reports)),
	}
}
