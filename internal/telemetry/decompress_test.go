package telemetry

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// compress builds a CarData.z style payload from raw JSON.
func compress(t *testing.T, raw string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecode_MapsChannelArray(t *testing.T) {
	payload := compress(t, `{"Entries":[{"Utc":"2025-05-16T13:00:00Z","Cars":{"1":{"Channels":[11000,0,300000,7,80,0]}}}]}`)

	got, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, "2025-05-16T13:00:00Z", got.Timestamp)
	assert.Equal(t, snapshot.CarChannels{
		RPM: 11000, Speed: 1080, Gear: 7, Throttle: 80, Brake: 0, DRS: 0,
	}, got.Cars["1"])
}

func TestDecode_MapsChannelObjectAndDefaultsMissing(t *testing.T) {
	payload := compress(t, `{"Entries":[{"Utc":"t","Cars":{"44":{"Channels":{"0":10500,"3":6,"45":12}}}}]}`)

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, snapshot.CarChannels{RPM: 10500, Gear: 6, DRS: 12}, got.Cars["44"])
}

func TestDecode_UsesOnlyLastEntry(t *testing.T) {
	payload := compress(t, `{"Entries":[
		{"Utc":"old","Cars":{"1":{"Channels":[1]},"2":{"Channels":[2]}}},
		{"Utc":"new","Cars":{"1":{"Channels":[9000]}}}]}`)

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Timestamp)
	require.Len(t, got.Cars, 1)
	assert.Equal(t, 9000.0, got.Cars["1"].RPM)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"bad base64", "!!not-base64!!", ErrBase64},
		{"not deflate", base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff, 0xff}), ErrInflate},
		{"bad json", compress(t, `{"Entries":[`), ErrJSON},
		{"no entries", compress(t, `{"Entries":[]}`), ErrNoEntries},
		{"not utf8", compress(t, "\xff\xfe"), ErrNotUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMapChannels_SpeedRounding(t *testing.T) {
	assert.Equal(t, 1.0, MapChannels(Channels{ChannelSpeed: 300}).Speed)
	assert.Equal(t, 0.0, MapChannels(Channels{}).Speed)
	assert.Equal(t, 324.0, MapChannels(Channels{ChannelSpeed: 90000}).Speed)
}

func TestMapChannels_FractionalReadingsPassThrough(t *testing.T) {
	got := MapChannels(Channels{
		ChannelRPM:      10999.5,
		ChannelGear:     7,
		ChannelThrottle: 99.6,
		ChannelBrake:    0.4,
		ChannelDRS:      8,
	})
	assert.Equal(t, snapshot.CarChannels{RPM: 10999.5, Gear: 7, Throttle: 99.6, Brake: 0.4, DRS: 8}, got)
}

func TestDecode_FractionalChannelsSurviveEncoding(t *testing.T) {
	payload := compress(t, `{"Entries":[{"Utc":"t","Cars":{"1":{"Channels":{"0":11250.75,"4":42.5}}}}]}`)

	got, err := Decode(payload)
	require.NoError(t, err)

	raw, err := json.Marshal(got.Cars["1"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"RPM":11250.75,"Speed":0,"Gear":0,"Throttle":42.5,"Brake":0,"DRS":0}`, string(raw))
}
