package usage

import "fmt"

// evaluate returns the active triggers in a fixed order:
// api, export, team, storage, report.
func evaluate(m Metrics) []Trigger {
	triggers := make([]Trigger, 0)
	cur, lim, pct := m.Current, m.Limits, m.Percentage

	if pct.APICalls >= 80 {
		triggers = append(triggers, Trigger{
			Type:       TriggerAPILimit,
			Current:    float64(cur.APICalls),
			Limit:      float64(lim.APICalls),
			Percentage: pct.APICalls,
			Message:    fmt.Sprintf("You've used %.0f%% of your API calls. Upgrade to Pro for unlimited calls.", pct.APICalls),
			Priority:   priorityAt(pct.APICalls, 95),
		})
	}

	if pct.Exports >= 80 {
		triggers = append(triggers, Trigger{
			Type:       TriggerExportLimit,
			Current:    float64(cur.Exports),
			Limit:      float64(lim.Exports),
			Percentage: pct.Exports,
			Message:    fmt.Sprintf("You've used %d of %d exports. Upgrade to Pro for unlimited exports.", cur.Exports, lim.Exports),
			Priority:   priorityAt(pct.Exports, 100),
		})
	}

	// Any extra seat is a prompt, regardless of percentage
	if cur.TeamMembers > 1 {
		triggers = append(triggers, Trigger{
			Type:       TriggerTeamLimit,
			Current:    float64(cur.TeamMembers),
			Limit:      float64(lim.TeamMembers),
			Percentage: pct.TeamMembers,
			Message:    fmt.Sprintf("You've added %d team members. Upgrade to Pro for unlimited team collaboration.", cur.TeamMembers),
			Priority:   PriorityMedium,
		})
	}

	if pct.Storage >= 80 {
		triggers = append(triggers, Trigger{
			Type:       TriggerStorageLimit,
			Current:    cur.Storage,
			Limit:      lim.Storage,
			Percentage: pct.Storage,
			Message:    fmt.Sprintf("You've used %.0f%% of your storage. Upgrade to Pro for unlimited storage.", pct.Storage),
			Priority:   priorityAt(pct.Storage, 95),
		})
	}

	if pct.Reports >= 80 {
		triggers = append(triggers, Trigger{
			Type:       TriggerReportLimit,
			Current:    float64(cur.Reports),
			Limit:      float64(lim.Reports),
			Percentage: pct.Reports,
			Message:    fmt.Sprintf("You've generated %d of %d reports. Upgrade to Pro for unlimited reports.", cur.Reports, lim.Reports),
			Priority:   priorityAt(pct.Reports, 100),
		})
	}

	return triggers
}

func priorityAt(pct, critical float64) Priority {
	if pct >= critical {
		return PriorityCritical
	}
	return PriorityHigh
}
