package snapshot

// Typed views over the topics the relay reads or generates itself. Fields
// follow the provider's naming so the structs round-trip through the store.

type DriverRecord struct {
	RacingNumber  string `json:"RacingNumber"`
	BroadcastName string `json:"BroadcastName,omitempty"`
	FullName      string `json:"FullName,omitempty"`
	Tla           string `json:"Tla,omitempty"`
	Line          int    `json:"Line,omitempty"`
	TeamName      string `json:"TeamName,omitempty"`
	TeamColour    string `json:"TeamColour,omitempty"`
	FirstName     string `json:"FirstName,omitempty"`
	LastName      string `json:"LastName,omitempty"`
	Reference     string `json:"Reference,omitempty"`
	HeadshotURL   string `json:"HeadshotUrl,omitempty"`
}

type SectorTiming struct {
	Value string `json:"Value"`
}

type TimingRecord struct {
	Position                string                  `json:"Position,omitempty"`
	GapToLeader             string                  `json:"GapToLeader,omitempty"`
	IntervalToPositionAhead *IntervalValue          `json:"IntervalToPositionAhead,omitempty"`
	LastLapTime             *SectorTiming           `json:"LastLapTime,omitempty"`
	BestLapTime             *SectorTiming           `json:"BestLapTime,omitempty"`
	Sectors                 map[string]SectorTiming `json:"Sectors,omitempty"`
	NumberOfLaps            int                     `json:"NumberOfLaps,omitempty"`
	NumberOfPitStops        int                     `json:"NumberOfPitStops,omitempty"`
	InPit                   bool                    `json:"InPit"`
	PitOut                  bool                    `json:"PitOut"`
	Retired                 bool                    `json:"Retired,omitempty"`
}

type IntervalValue struct {
	Value string `json:"Value"`
}

type TrackStatus struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
}

type SessionInfo struct {
	Meeting   Meeting `json:"Meeting"`
	Key       int     `json:"Key,omitempty"`
	Type      string  `json:"Type"`
	Name      string  `json:"Name"`
	StartDate string  `json:"StartDate,omitempty"`
	EndDate   string  `json:"EndDate,omitempty"`
	GmtOffset string  `json:"GmtOffset,omitempty"`
	Path      string  `json:"Path,omitempty"`
}

type Meeting struct {
	Key          int     `json:"Key,omitempty"`
	Name         string  `json:"Name,omitempty"`
	OfficialName string  `json:"OfficialName,omitempty"`
	Location     string  `json:"Location,omitempty"`
	Country      Country `json:"Country"`
}

type Country struct {
	Code string `json:"Code"`
	Name string `json:"Name"`
}

// WeatherData values are decimal strings on the wire.
type WeatherData struct {
	AirTemp       string `json:"AirTemp"`
	Humidity      string `json:"Humidity"`
	Pressure      string `json:"Pressure"`
	Rainfall      string `json:"Rainfall"`
	TrackTemp     string `json:"TrackTemp"`
	WindDirection string `json:"WindDirection"`
	WindSpeed     string `json:"WindSpeed"`
}

// CarTelemetry is the decoded form of the compressed car data topic.
type CarTelemetry struct {
	Timestamp string                 `json:"Timestamp"`
	Cars      map[string]CarChannels `json:"Cars"`
}

// CarChannels holds one car's readings. Channels are passed through as sent;
// Speed is rounded to whole km/h.
type CarChannels struct {
	RPM      float64 `json:"RPM"`
	Speed    float64 `json:"Speed"`
	Gear     float64 `json:"Gear"`
	Throttle float64 `json:"Throttle"`
	Brake    float64 `json:"Brake"`
	DRS      float64 `json:"DRS"`
}
