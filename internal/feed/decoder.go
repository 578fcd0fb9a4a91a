// Package feed turns raw upstream frames into typed update envelopes.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
	"github.com/dgnsrekt/livetiming-relay/internal/telemetry"
)

// Kind classifies an envelope.
type Kind int

const (
	KindFeed Kind = iota
	KindTelemetry
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindFeed:
		return "feed"
	case KindTelemetry:
		return "telemetry"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Drop reasons reported to the decoder's observer.
const (
	DropMalformed = "malformed"
	DropArguments = "arguments"
	DropTelemetry = "telemetry"
	DropMethod    = "method"
)

// ErrMalformed is returned for frames that are not valid JSON objects.
var ErrMalformed = errors.New("malformed frame")

// Envelope is one decoded update.
type Envelope struct {
	Kind      Kind
	Topic     string
	Payload   any
	Timestamp string

	// Block is set for KindReference.
	Block snapshot.ReferenceBlock
}

// Encode renders the envelope in the downstream wire shape.
func (e Envelope) Encode() ([]byte, error) {
	if e.Kind == KindReference {
		return signalr.EncodeReference(e.Block)
	}
	return signalr.EncodeFeed(e.Topic, e.Payload, e.Timestamp)
}

// DropFunc observes a discarded message.
type DropFunc func(reason string, err error)

// Decoder classifies frames. It holds no state and is safe for concurrent use.
type Decoder struct {
	logger *zap.Logger
	onDrop DropFunc
}

// NewDecoder creates a Decoder. onDrop may be nil.
func NewDecoder(logger *zap.Logger, onDrop DropFunc) *Decoder {
	if onDrop == nil {
		onDrop = func(string, error) {}
	}
	return &Decoder{logger: logger, onDrop: onDrop}
}

// Decode parses one frame. A malformed frame returns ErrMalformed and no
// envelopes; a bad message inside a valid frame is dropped on its own and the
// rest of the frame still decodes. Keep-alive frames yield no envelopes.
func (d *Decoder) Decode(data []byte) ([]Envelope, error) {
	var frame signalr.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		d.onDrop(DropMalformed, err)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var out []Envelope
	if len(frame.R) > 0 {
		if env, ok := d.decodeReference(frame.R); ok {
			out = append(out, env)
		}
	}

	for _, msg := range frame.M {
		if !msg.IsFeed() {
			d.onDrop(DropMethod, nil)
			continue
		}
		env, err := d.decodeFeed(msg.A)
		if err != nil {
			reason := DropArguments
			if errors.Is(err, errTelemetry) {
				reason = DropTelemetry
			}
			d.onDrop(reason, err)
			d.logger.Warn("dropping feed message", zap.String("reason", reason), zap.Error(err))
			continue
		}
		if env != nil {
			out = append(out, *env)
		}
	}
	return out, nil
}

var errTelemetry = errors.New("telemetry")

func (d *Decoder) decodeFeed(args []json.RawMessage) (*Envelope, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("feed has %d arguments", len(args))
	}

	var topic string
	if err := json.Unmarshal(args[0], &topic); err != nil || topic == "" {
		return nil, fmt.Errorf("feed topic is not a string")
	}

	var timestamp string
	if len(args) > 2 {
		// A non-string timestamp is ignored.
		_ = json.Unmarshal(args[2], &timestamp)
	}

	if topic == snapshot.TopicCarDataZ {
		var compressed string
		if err := json.Unmarshal(args[1], &compressed); err == nil {
			payload, err := decodeTelemetry(compressed)
			if err != nil {
				return nil, err
			}
			if payload == nil {
				return nil, nil
			}
			return &Envelope{
				Kind:      KindTelemetry,
				Topic:     snapshot.TopicCarData,
				Payload:   payload,
				Timestamp: timestamp,
			}, nil
		}
	}

	payload, err := snapshot.DecodeValue(args[1])
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", topic, err)
	}
	return &Envelope{Kind: KindFeed, Topic: topic, Payload: payload, Timestamp: timestamp}, nil
}

// decodeReference builds a reference envelope from R. Non-object results, such
// as replies to other invocations, are ignored.
func (d *Decoder) decodeReference(raw json.RawMessage) (Envelope, bool) {
	v, err := snapshot.DecodeValue(raw)
	if err != nil {
		d.onDrop(DropMalformed, err)
		return Envelope{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return Envelope{}, false
	}

	block := snapshot.ReferenceBlock(obj)
	if compressed, ok := block[snapshot.TopicCarDataZ].(string); ok {
		delete(block, snapshot.TopicCarDataZ)
		payload, err := decodeTelemetry(compressed)
		switch {
		case err != nil:
			d.onDrop(DropTelemetry, err)
			d.logger.Warn("dropping reference telemetry", zap.Error(err))
		case payload != nil:
			block[snapshot.TopicCarData] = payload
		}
	}
	return Envelope{Kind: KindReference, Block: block}, true
}

// decodeTelemetry returns nil, nil for a sample with no entries.
func decodeTelemetry(compressed string) (any, error) {
	sample, err := telemetry.Decode(compressed)
	if errors.Is(err, telemetry.ErrNoEntries) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTelemetry, err)
	}
	return snapshot.ValueOf(sample)
}
