package domain

import "strings"

// SourceEvent identifies a delivered event instance for deduplication.
// Two source events are equal when all three fields are equal.
type SourceEvent struct {
	AggregateType string
	AggregateID   string
	EventID       string
}

func NewSourceEvent(aggregateType, aggregateID, eventID string) (SourceEvent, error) {
	se := SourceEvent{
		AggregateType: strings.TrimSpace(aggregateType),
		AggregateID:   strings.TrimSpace(aggregateID),
		EventID:       strings.TrimSpace(eventID),
	}
	if se.AggregateType == "" || se.AggregateID == "" || se.EventID == "" {
		return SourceEvent{}, ErrInvalidSourceEvent
	}
	return se, nil
}

var (
	markerEscaper   = strings.NewReplacer("%", "%25", "/", "%2F", "#", "%23")
	markerUnescaper = strings.NewReplacer("%25", "%", "%2F", "/", "%23", "#")
)

// AggregateKey identifies the source aggregate a marker belongs to.
func (se SourceEvent) AggregateKey() string {
	return markerEscaper.Replace(se.AggregateType) + "/" + markerEscaper.Replace(se.AggregateID)
}

// Marker is the flat form of the source event used by stores that keep
// applied events as a set of strings. Separators inside fields are
// percent-encoded so distinct source events never share a marker.
func (se SourceEvent) Marker() string {
	return se.AggregateKey() + "#" + markerEscaper.Replace(se.EventID)
}

// ParseMarker reverses Marker.
func ParseMarker(marker string) (SourceEvent, bool) {
	key, eventID, ok := strings.Cut(marker, "#")
	if !ok || strings.Contains(eventID, "#") {
		return SourceEvent{}, false
	}
	aggregateType, aggregateID, ok := strings.Cut(key, "/")
	if !ok || strings.Contains(aggregateID, "/") {
		return SourceEvent{}, false
	}
	se, err := NewSourceEvent(
		markerUnescaper.Replace(aggregateType),
		markerUnescaper.Replace(aggregateID),
		markerUnescaper.Replace(eventID),
	)
	if err != nil {
		return SourceEvent{}, false
	}
	return se, true
}

func (se SourceEvent) String() string { return se.Marker() }
