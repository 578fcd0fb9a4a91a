package notify

import (
	"fmt"
	"strings"
	"time"
)

// Outage describes an upstream interruption.
type Outage struct {
	Since     time.Time     // When the upstream left the streaming state
	Duration  time.Duration // How long it has been down
	LastState string        // Most recent client state
	Sessions  uint64        // Sessions established so far
}

// FormatOutageMessage creates an outage notification body.
func FormatOutageMessage(o Outage) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Down since: %s\n", o.Since.UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", o.Duration.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("State: %s\n", o.LastState))
	sb.WriteString(fmt.Sprintf("Sessions: %d", o.Sessions))

	return sb.String()
}

// FormatRecoveryMessage creates a recovery notification body.
func FormatRecoveryMessage(o Outage) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Down since: %s\n", o.Since.UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Downtime: %s\n", o.Duration.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Sessions: %d", o.Sessions))

	return sb.String()
}
