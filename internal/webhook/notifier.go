package webhook

// EventNotifier pushes real-time events to connected agency dashboards.
type EventNotifier interface {
	BroadcastAgencyEvent(agencyID string, eventType string, data interface{})
}
