// Package simulation produces a synthetic race feed in the upstream wire
// format, so the relay can run without a live session.
package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

const (
	DefaultInterval = 500 * time.Millisecond

	baseLapTime  = 85.0 // seconds
	totalLaps    = 57
	pitChance    = 0.02
	pitExitRate  = 0.3
	lapChance    = 0.1
	swapChance   = 0.03
	weatherRate  = 0.05
	trackRate    = 0.01
	sectorsCount = 3
)

// FrameFunc receives each generated frame.
type FrameFunc func(ctx context.Context, data []byte)

// Options configures a Generator.
type Options struct {
	Interval time.Duration
	// Seed fixes the random sequence. Zero seeds from the clock.
	Seed uint64
}

type carState struct {
	entry    rosterEntry
	position int
	laps     int
	pitStops int
	inPit    bool
	lastLap  float64
	bestLap  float64
	sectors  [sectorsCount]float64
}

type weatherState struct {
	airTemp, trackTemp, humidity, pressure, windSpeed, windDir float64
}

// Generator emits a reference frame followed by periodic feed frames.
type Generator struct {
	emit     FrameFunc
	interval time.Duration
	seed     uint64
	logger   *zap.Logger

	rng     *rand.Rand
	cars    []*carState
	weather weatherState
	track   int
	leadLap int
	now     func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(emit FrameFunc, opts Options, logger *zap.Logger) *Generator {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Generator{
		emit:     emit,
		interval: interval,
		seed:     opts.Seed,
		logger:   logger,
		now:      time.Now,
	}
}

// Run resets the simulated session, emits the reference frame and then one
// batch of feed frames per tick until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.reset()

	ref, err := g.referenceFrame()
	if err != nil {
		return fmt.Errorf("building reference frame: %w", err)
	}
	g.emit(ctx, ref)

	g.logger.Info("simulation started",
		zap.Int("drivers", len(g.cars)),
		zap.Duration("interval", g.interval),
	)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("simulation stopped")
			return ctx.Err()
		case <-ticker.C:
			frames, err := g.step()
			if err != nil {
				g.logger.Error("simulation step failed", zap.Error(err))
				continue
			}
			for _, f := range frames {
				g.emit(ctx, f)
			}
		}
	}
}

func (g *Generator) reset() {
	seed := g.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	g.rng = rand.New(rand.NewPCG(seed, seed>>1|1))

	g.cars = make([]*carState, len(roster))
	for i, entry := range roster {
		pos := i + 1
		pace := baseLapTime + float64(pos)*0.1
		car := &carState{
			entry:    entry,
			position: pos,
			laps:     20 + g.rng.IntN(3),
			pitStops: g.rng.IntN(2),
			lastLap:  pace + g.rng.Float64() - 0.5,
			bestLap:  pace - 0.3 - g.rng.Float64()*0.5,
		}
		g.newSectors(car, pace)
		g.cars[i] = car
	}
	g.leadLap = g.leaderLaps()

	g.weather = weatherState{
		airTemp:   22 + g.rng.Float64()*5,
		trackTemp: 30 + g.rng.Float64()*8,
		humidity:  40 + g.rng.Float64()*30,
		pressure:  1010 + g.rng.Float64()*10,
		windSpeed: 1 + g.rng.Float64()*4,
		windDir:   g.rng.Float64() * 360,
	}
	g.track = 0
}

func (g *Generator) newSectors(car *carState, pace float64) {
	for s := range car.sectors {
		car.sectors[s] = pace/sectorsCount - 0.1 + g.rng.Float64()*0.4
	}
}

func (g *Generator) leaderLaps() int {
	for _, c := range g.cars {
		if c.position == 1 {
			return c.laps
		}
	}
	return 0
}

func (g *Generator) referenceFrame() ([]byte, error) {
	drivers := make(map[string]any, len(g.cars))
	lines := make(map[string]any, len(g.cars))
	for _, c := range g.cars {
		drivers[c.entry.Number] = snapshot.DriverRecord{
			RacingNumber:  c.entry.Number,
			BroadcastName: c.entry.First[:1] + " " + c.entry.Last,
			FullName:      c.entry.First + " " + c.entry.Last,
			Tla:           c.entry.Tla,
			Line:          c.position,
			TeamName:      c.entry.Team,
			TeamColour:    c.entry.Colour,
			FirstName:     c.entry.First,
			LastName:      c.entry.Last,
		}
		lines[c.entry.Number] = g.timingLine(c, true)
	}

	start := g.now().UTC()
	block := map[string]any{
		snapshot.TopicDriverList: drivers,
		snapshot.TopicTimingData: map[string]any{snapshot.LinesKey: lines},
		snapshot.TopicTrackStatus: snapshot.TrackStatus{
			Status:  trackStates[g.track].Status,
			Message: trackStates[g.track].Message,
		},
		snapshot.TopicSessionInfo: snapshot.SessionInfo{
			Meeting: snapshot.Meeting{
				Name:         "Simulation Grand Prix",
				OfficialName: "FORMULA 1 SIMULATION GRAND PRIX",
				Location:     "Test Circuit",
				Country:      snapshot.Country{Code: "SIM", Name: "Simulation"},
			},
			Type:      "Race",
			Name:      "Race",
			StartDate: start.Format(time.RFC3339),
			EndDate:   start.Add(2 * time.Hour).Format(time.RFC3339),
		},
		snapshot.TopicWeatherData: g.weatherRecord(),
		snapshot.TopicLapCount: map[string]int{
			"CurrentLap": g.leadLap,
			"TotalLaps":  totalLaps,
		},
		snapshot.TopicHeartbeat: map[string]string{"Utc": g.timestamp()},
	}
	return json.Marshal(map[string]any{"R": block})
}

func (g *Generator) timingLine(c *carState, full bool) map[string]any {
	line := map[string]any{
		"Position":         strconv.Itoa(c.position),
		"GapToLeader":      g.gapToLeader(c),
		"NumberOfLaps":     c.laps,
		"NumberOfPitStops": c.pitStops,
		"InPit":            c.inPit,
	}
	if c.position == 1 {
		line["IntervalToPositionAhead"] = snapshot.IntervalValue{Value: ""}
	} else {
		line["IntervalToPositionAhead"] = snapshot.IntervalValue{Value: fmt.Sprintf("+%.3f", 1.5+g.rng.Float64()*2)}
	}
	if full {
		line["LastLapTime"] = snapshot.SectorTiming{Value: FormatLapTime(c.lastLap)}
		line["BestLapTime"] = snapshot.SectorTiming{Value: FormatLapTime(c.bestLap)}
		line["Sectors"] = g.sectorValues(c)
	}
	return line
}

func (g *Generator) gapToLeader(c *carState) string {
	if c.position == 1 {
		return fmt.Sprintf("LAP %d", c.laps)
	}
	return fmt.Sprintf("+%.3f", float64(c.position-1)*2.5+g.rng.Float64()*2)
}

func (g *Generator) sectorValues(c *carState) map[string]snapshot.SectorTiming {
	out := make(map[string]snapshot.SectorTiming, sectorsCount)
	for s, v := range c.sectors {
		out[strconv.Itoa(s)] = snapshot.SectorTiming{Value: fmt.Sprintf("%.3f", v)}
	}
	return out
}

func (g *Generator) weatherRecord() snapshot.WeatherData {
	w := g.weather
	return snapshot.WeatherData{
		AirTemp:       fmt.Sprintf("%.1f", w.airTemp),
		Humidity:      fmt.Sprintf("%.1f", w.humidity),
		Pressure:      fmt.Sprintf("%.1f", w.pressure),
		Rainfall:      "0",
		TrackTemp:     fmt.Sprintf("%.1f", w.trackTemp),
		WindDirection: strconv.Itoa(int(w.windDir)),
		WindSpeed:     fmt.Sprintf("%.1f", w.windSpeed),
	}
}

func (g *Generator) timestamp() string {
	return g.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// step advances the session by one tick and returns the resulting frames.
func (g *Generator) step() ([][]byte, error) {
	ts := g.timestamp()
	changed := make(map[string]map[string]any)
	mark := func(c *carState, full bool) {
		line := g.timingLine(c, full)
		if prev, ok := changed[c.entry.Number]; ok {
			for k, v := range prev {
				if _, set := line[k]; !set {
					line[k] = v
				}
			}
		}
		changed[c.entry.Number] = line
	}

	for _, c := range g.cars {
		switch {
		case !c.inPit && g.rng.Float64() < pitChance:
			c.inPit = true
			mark(c, false)
		case c.inPit && g.rng.Float64() < pitExitRate:
			c.inPit = false
			c.pitStops++
			mark(c, false)
		}

		if !c.inPit && g.rng.Float64() < lapChance {
			pace := baseLapTime + float64(c.position)*0.1
			c.laps++
			c.lastLap = pace + g.rng.Float64()*2 - 1
			if c.lastLap < c.bestLap {
				c.bestLap = c.lastLap
			}
			g.newSectors(c, pace)
			mark(c, true)
		}

		if !c.inPit && c.position > 1 && g.rng.Float64() < swapChance {
			ahead := g.carAt(c.position - 1)
			if ahead != nil && !ahead.inPit {
				ahead.position, c.position = c.position, ahead.position
				mark(ahead, false)
				mark(c, false)
			}
		}
	}

	var frames [][]byte
	add := func(topic string, payload any) error {
		f, err := signalr.EncodeFeed(topic, payload, ts)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", topic, err)
		}
		frames = append(frames, f)
		return nil
	}

	if err := add(snapshot.TopicHeartbeat, map[string]string{"Utc": ts}); err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		numbers := make([]string, 0, len(changed))
		for n := range changed {
			numbers = append(numbers, n)
		}
		sort.Strings(numbers)
		lines := make(map[string]any, len(changed))
		for _, n := range numbers {
			lines[n] = changed[n]
		}
		if err := add(snapshot.TopicTimingData, map[string]any{snapshot.LinesKey: lines}); err != nil {
			return nil, err
		}
	}

	if lead := g.leaderLaps(); lead > g.leadLap {
		g.leadLap = lead
		if err := add(snapshot.TopicLapCount, map[string]int{"CurrentLap": lead}); err != nil {
			return nil, err
		}
	}

	if g.rng.Float64() < weatherRate {
		g.weather.airTemp += g.rng.Float64()*0.4 - 0.2
		g.weather.trackTemp += g.rng.Float64()*0.6 - 0.3
		g.weather.windSpeed = math.Max(0, g.weather.windSpeed+g.rng.Float64()-0.5)
		g.weather.humidity = math.Min(100, math.Max(0, g.weather.humidity+g.rng.Float64()*2-1))
		if err := add(snapshot.TopicWeatherData, g.weatherRecord()); err != nil {
			return nil, err
		}
	}

	if g.rng.Float64() < trackRate {
		g.track = g.rng.IntN(len(trackStates))
		if err := add(snapshot.TopicTrackStatus, snapshot.TrackStatus{
			Status:  trackStates[g.track].Status,
			Message: trackStates[g.track].Message,
		}); err != nil {
			return nil, err
		}
	}

	return frames, nil
}

func (g *Generator) carAt(position int) *carState {
	for _, c := range g.cars {
		if c.position == position {
			return c
		}
	}
	return nil
}

// FormatLapTime renders seconds as m:ss.SSS.
func FormatLapTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(math.Round(seconds * 1000))
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}
