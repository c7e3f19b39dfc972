package api

import "workshopdl/internal/queue"

// SubmitRequest is the JSON body for POST /requests.
type SubmitRequest struct {
	Reference string `json:"reference"`
}

// ListResponse is returned by GET /requests.
type ListResponse struct {
	Requests []queue.Request `json:"requests"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Queued        int    `json:"queued"`
	Downloading   int    `json:"downloading"`
	Ready         bool   `json:"ready"`
}
