package snapshot

// Topic names published by the live timing feed.
const (
	TopicHeartbeat              = "Heartbeat"
	TopicCarData                = "CarData"
	TopicCarDataZ               = "CarData.z"
	TopicPositionZ              = "Position.z"
	TopicExtrapolatedClock      = "ExtrapolatedClock"
	TopicTopThree               = "TopThree"
	TopicRcmSeries              = "RcmSeries"
	TopicTimingStats            = "TimingStats"
	TopicTimingAppData          = "TimingAppData"
	TopicWeatherData            = "WeatherData"
	TopicTrackStatus            = "TrackStatus"
	TopicSessionStatus          = "SessionStatus"
	TopicDriverList             = "DriverList"
	TopicRaceControlMessages    = "RaceControlMessages"
	TopicSessionInfo            = "SessionInfo"
	TopicSessionData            = "SessionData"
	TopicLapCount               = "LapCount"
	TopicTimingData             = "TimingData"
	TopicTeamRadio              = "TeamRadio"
	TopicPitLaneTimeCollection  = "PitLaneTimeCollection"
	TopicChampionshipPrediction = "ChampionshipPrediction"
)

// LinesKey is the payload key that carries per-driver deltas.
const LinesKey = "Lines"

// Shape describes the layout of a topic's value. Every shape follows the same
// update rule: an object payload with a Lines collection is merged per entity,
// any other object payload is shallow merged, and anything else replaces the
// value.
type Shape int

const (
	// ShapeOpaque is used for topics the relay knows nothing about.
	ShapeOpaque Shape = iota

	// ShapeRecord is a flat record (TrackStatus, WeatherData, ...).
	ShapeRecord

	// ShapeLines is a record whose Lines key holds per-driver records
	// (TimingData, TimingAppData, ...). When Lines is stored as an array
	// (TopThree) entity ids address its positions.
	ShapeLines

	// ShapeEntities is a map keyed directly by driver number (DriverList).
	ShapeEntities

	// ShapeSeries holds indexed collections (RaceControlMessages.Messages,
	// TeamRadio.Captures, ...).
	ShapeSeries
)

func (s Shape) String() string {
	switch s {
	case ShapeRecord:
		return "record"
	case ShapeLines:
		return "lines"
	case ShapeEntities:
		return "entities"
	case ShapeSeries:
		return "series"
	default:
		return "opaque"
	}
}

var topicShapes = map[string]Shape{
	TopicHeartbeat:              ShapeRecord,
	TopicCarData:                ShapeRecord,
	TopicExtrapolatedClock:      ShapeRecord,
	TopicWeatherData:            ShapeRecord,
	TopicTrackStatus:            ShapeRecord,
	TopicSessionStatus:          ShapeRecord,
	TopicSessionInfo:            ShapeRecord,
	TopicLapCount:               ShapeRecord,
	TopicTopThree:               ShapeLines,
	TopicTimingStats:            ShapeLines,
	TopicTimingAppData:          ShapeLines,
	TopicTimingData:             ShapeLines,
	TopicDriverList:             ShapeEntities,
	TopicRaceControlMessages:    ShapeSeries,
	TopicRcmSeries:              ShapeSeries,
	TopicSessionData:            ShapeSeries,
	TopicTeamRadio:              ShapeSeries,
	TopicPitLaneTimeCollection:  ShapeSeries,
	TopicChampionshipPrediction: ShapeSeries,
}

// ShapeOf returns the declared shape of topic, ShapeOpaque when unknown.
func ShapeOf(topic string) Shape {
	if s, ok := topicShapes[topic]; ok {
		return s
	}
	return ShapeOpaque
}

// SubscribeTopics is the topic list sent in the upstream Subscribe command.
var SubscribeTopics = []string{
	TopicHeartbeat,
	TopicCarDataZ,
	TopicExtrapolatedClock,
	TopicTopThree,
	TopicRcmSeries,
	TopicTimingStats,
	TopicTimingAppData,
	TopicWeatherData,
	TopicTrackStatus,
	TopicSessionStatus,
	TopicDriverList,
	TopicRaceControlMessages,
	TopicSessionInfo,
	TopicSessionData,
	TopicLapCount,
	TopicTimingData,
	TopicTeamRadio,
	TopicPitLaneTimeCollection,
	TopicChampionshipPrediction,
}

// ArchiveTopics is the topic list fetched from the static archive to seed the
// store before the first live frame.
var ArchiveTopics = []string{
	TopicExtrapolatedClock,
	TopicTopThree,
	TopicTimingStats,
	TopicTimingAppData,
	TopicWeatherData,
	TopicTrackStatus,
	TopicSessionStatus,
	TopicDriverList,
	TopicRaceControlMessages,
	TopicSessionInfo,
	TopicSessionData,
	TopicLapCount,
	TopicTimingData,
	TopicTeamRadio,
	TopicPitLaneTimeCollection,
	TopicChampionshipPrediction,
}
