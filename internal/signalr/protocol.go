package signalr

import (
	"encoding/json"
)

// Protocol constants for the provider's SignalR 1.5 endpoint.
const (
	HubName         = "Streaming"
	ProtocolVersion = "1.5"
	MethodFeed      = "feed"
	MethodSubscribe = "Subscribe"
	UserAgent       = "BestHTTP"
	AcceptEncoding  = "gzip,identity"
)

// ConnectionData returns the hub descriptor sent on negotiate and connect.
func ConnectionData() string {
	return `[{"name":"` + HubName + `"}]`
}

// Frame is one inbound message on the persistent socket. Keep-alives arrive as
// an empty object.
type Frame struct {
	C string          `json:"C,omitempty"`
	I json.RawMessage `json:"I,omitempty"`
	R json.RawMessage `json:"R,omitempty"`
	M []HubMessage    `json:"M,omitempty"`
}

// HubMessage is a server-to-client hub invocation.
type HubMessage struct {
	H string            `json:"H"`
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
}

// IsFeed reports whether the message is a Streaming.feed invocation.
func (m HubMessage) IsFeed() bool {
	return m.H == HubName && m.M == MethodFeed
}

// Command is a client-to-server hub invocation.
type Command struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
	I int    `json:"I"`
}

// NewSubscribe builds the Subscribe command for topics.
func NewSubscribe(topics []string, id int) Command {
	list := make([]string, len(topics))
	copy(list, topics)
	return Command{
		H: HubName,
		M: MethodSubscribe,
		A: []any{list},
		I: id,
	}
}

// Outbound frames use the same shape as inbound ones so downstream clients can
// reuse a SignalR-style parser.

type outboundFrame struct {
	M []outboundMessage `json:"M"`
}

type outboundMessage struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
}

// EncodeFeed returns {"M":[{"H":"Streaming","M":"feed","A":[topic,payload,timestamp]}]}.
// An empty timestamp is omitted from A.
func EncodeFeed(topic string, payload any, timestamp string) ([]byte, error) {
	args := []any{topic, payload}
	if timestamp != "" {
		args = append(args, timestamp)
	}
	return json.Marshal(outboundFrame{M: []outboundMessage{{H: HubName, M: MethodFeed, A: args}}})
}

// EncodeReference returns {"M":[{"H":"Streaming","M":"feed","A":[{"R":block}]}]}.
func EncodeReference(block any) ([]byte, error) {
	return json.Marshal(outboundFrame{M: []outboundMessage{{
		H: HubName,
		M: MethodFeed,
		A: []any{map[string]any{"R": block}},
	}}})
}
