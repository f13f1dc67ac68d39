package http

// HealthResponse is the body of GET /health. Fields past Time come from the
// application's health reporter.
type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	Time          string `json:"time" example:"2026-01-15T10:30:00Z"`
	InstanceID    string `json:"instance_id" example:"6f1c2b7e-4d3a-4d8e-9a51-2f3b1c0d9e77"`
	Version       string `json:"version" example:"1.0.0"`
	UptimeSeconds int64  `json:"uptime_seconds" example:"3600"`
	Broker        string `json:"broker" example:"redis"`
	BusRunning    bool   `json:"bus_running" example:"true"`
	Connections   int    `json:"connections" example:"12"`
	Listeners     int    `json:"listeners" example:"12"`
}

// TriggerResponse is returned when an event was published.
type TriggerResponse struct {
	Status   string `json:"status" example:"accepted"`
	Entity   string `json:"entity" example:"Notification"`
	Action   string `json:"action" example:"create"`
	Audience int    `json:"audience" example:"2"` // Number of recipients
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error" example:"rate limit exceeded"`
	Message string `json:"message,omitempty" example:"Too many requests. Please wait before trying again."`
}
