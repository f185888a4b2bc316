package observability

// EventEnvelope is the shape published to the events exchange for channel
// lifecycle and delivery events.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// ChannelEventPayload describes a push channel lifecycle transition.
type ChannelEventPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	UptimeMS  int64  `json:"uptime_ms"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
