package notify

import "time"

// Config holds ntfy notification configuration.
type Config struct {
	Enabled  bool   // Whether notifications are enabled
	Server   string // ntfy server URL (default: https://ntfy.sh)
	Topic    string // Topic name (required if enabled)
	Priority string // Message priority: min, low, default, high, urgent
	Tags     string // Comma-separated emoji tags (e.g., "checkered_flag")
	Token    string // Optional access token for private topics

	// OutageAfter is how long the upstream may stay out of the streaming
	// state before an outage notice is sent.
	OutageAfter time.Duration
}
