package server

// StartScanRequest names the target of an ad-hoc scan. When only
// WebsiteID is given the target is read from the registry.
type StartScanRequest struct {
	URL       string `json:"url" example:"18f.gov"`
	WebsiteID int64  `json:"websiteId" example:"42"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
