package tools

// ToolState tracks the provisioning lifecycle of the download tool.
type ToolState int

const (
	StateMissing ToolState = iota
	StateDownloading
	StateExtracting
	StateReady
	StateFailed
)

func (s ToolState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateDownloading:
		return "downloading"
	case StateExtracting:
		return "extracting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s ToolState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status captures the resolved state of the managed tool.
type Status struct {
	Platform    Platform  `json:"platform"`
	State       ToolState `json:"state"`
	Path        string    `json:"path,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	InstalledAt string    `json:"installed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ManifestEntry records an installed tool in the manifest.
type ManifestEntry struct {
	Platform    Platform `json:"platform"`
	Path        string   `json:"path"`
	SourceURL   string   `json:"source_url"`
	Checksum    string   `json:"checksum,omitempty"`
	InstalledAt string   `json:"installed_at,omitempty"`
}

// Manifest wraps persisted entries keyed by platform.
type Manifest struct {
	Entries map[Platform]ManifestEntry `json:"entries"`
}
