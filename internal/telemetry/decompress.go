// Package telemetry decodes the compressed car telemetry topic.
//
// The provider sends CarData.z as base64 text holding a raw DEFLATE stream (no
// zlib or gzip header) of JSON shaped as
//
//	{"Entries":[{"Utc":"...","Cars":{"1":{"Channels":{"0":11000,"2":300,...}}}}]}
//
// Only the newest entry is kept and its channel slots are mapped to named
// fields.
package telemetry

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"

	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// Channel slots inside a car sample.
const (
	ChannelRPM      = 0
	ChannelSpeed    = 2
	ChannelGear     = 3
	ChannelThrottle = 4
	ChannelBrake    = 5
	ChannelDRS      = 45
)

// maxInflatedSize bounds a single decompressed sample.
const maxInflatedSize = 16 << 20

var (
	ErrBase64    = errors.New("invalid base64 payload")
	ErrInflate   = errors.New("invalid deflate stream")
	ErrNotUTF8   = errors.New("decompressed payload is not valid UTF-8")
	ErrJSON      = errors.New("invalid telemetry json")
	ErrNoEntries = errors.New("telemetry payload has no entries")
	ErrOversize  = errors.New("decompressed payload too large")
)

// Channels is a car's channel readings. The provider encodes them as an object
// keyed by slot number; a plain array is accepted too.
type Channels map[int]float64

// UnmarshalJSON accepts either [v0, v1, ...] or {"0": v0, "2": v2, ...}.
func (c *Channels) UnmarshalJSON(data []byte) error {
	out := make(Channels)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []*float64
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		for i, v := range arr {
			if v != nil {
				out[i] = *v
			}
		}
		*c = out
		return nil
	}

	var obj map[string]*float64
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		idx, err := strconv.Atoi(k)
		if err != nil || v == nil {
			continue
		}
		out[idx] = *v
	}
	*c = out
	return nil
}

// Entry is one sampling instant for all cars.
type Entry struct {
	Utc  string `json:"Utc"`
	Cars map[string]struct {
		Channels Channels `json:"Channels"`
	} `json:"Cars"`
}

// Sample is the decompressed payload.
type Sample struct {
	Entries []Entry `json:"Entries"`
}

// Inflate decodes and decompresses a CarData.z payload into raw JSON.
func Inflate(payload string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64, err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInflate, err)
	}
	if len(raw) > maxInflatedSize {
		return nil, ErrOversize
	}
	if !utf8.Valid(raw) {
		return nil, ErrNotUTF8
	}
	return raw, nil
}

// Decode runs the full pipeline: base64, raw inflate, UTF-8, JSON, then maps
// the newest entry to named channels.
func Decode(payload string) (*snapshot.CarTelemetry, error) {
	raw, err := Inflate(payload)
	if err != nil {
		return nil, err
	}

	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSON, err)
	}
	return Format(&sample)
}

// Format maps the last entry of sample to the client-facing structure.
func Format(sample *Sample) (*snapshot.CarTelemetry, error) {
	if len(sample.Entries) == 0 {
		return nil, ErrNoEntries
	}
	latest := sample.Entries[len(sample.Entries)-1]

	out := &snapshot.CarTelemetry{
		Timestamp: latest.Utc,
		Cars:      make(map[string]snapshot.CarChannels, len(latest.Cars)),
	}
	for car, data := range latest.Cars {
		out.Cars[car] = MapChannels(data.Channels)
	}
	return out, nil
}

// MapChannels converts slot readings to named fields. Missing slots read 0.
// Speed is rescaled from the raw channel unit to km/h; the rest pass through.
func MapChannels(ch Channels) snapshot.CarChannels {
	return snapshot.CarChannels{
		RPM:      ch[ChannelRPM],
		Speed:    math.Round(ch[ChannelSpeed] / 1000 * 3.6),
		Gear:     ch[ChannelGear],
		Throttle: ch[ChannelThrottle],
		Brake:    ch[ChannelBrake],
		DRS:      ch[ChannelDRS],
	}
}
