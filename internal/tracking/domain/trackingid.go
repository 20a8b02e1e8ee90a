package domain

import (
	"encoding/json"
	"strings"

	"github.com/smallbiznis/aitime/internal/billing"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
)

const trackingIDSeparator = "::"

// TrackingID identifies one chargeable operation. The wire format is
// buildId::operationType::operationId, parsed from the end so a build id
// may itself contain the separator.
type TrackingID struct {
	BuildID       string
	OperationType consumptiondomain.OperationType
	OperationID   string
}

// String renders the wire format.
func (t TrackingID) String() string {
	return t.BuildID + trackingIDSeparator + string(t.OperationType) + trackingIDSeparator + t.OperationID
}

// MarshalJSON renders the wire string; clients hand it back verbatim when
// ending the session.
func (t TrackingID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TrackingID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTrackingID(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTrackingID decodes the wire format into its structured form.
func ParseTrackingID(raw string) (TrackingID, error) {
	idx := strings.LastIndex(raw, trackingIDSeparator)
	if idx < 0 {
		return TrackingID{}, billing.NewError(billing.CodeInvalidTrackingID,
			"malformed tracking id "+raw, nil)
	}
	operationID := raw[idx+len(trackingIDSeparator):]
	rest := raw[:idx]

	idx = strings.LastIndex(rest, trackingIDSeparator)
	if idx < 0 {
		return TrackingID{}, billing.NewError(billing.CodeInvalidTrackingID,
			"malformed tracking id "+raw, nil)
	}
	operationType := consumptiondomain.OperationType(rest[idx+len(trackingIDSeparator):])
	buildID := rest[:idx]

	if buildID == "" || operationID == "" {
		return TrackingID{}, billing.NewError(billing.CodeInvalidTrackingID,
			"malformed tracking id "+raw, nil)
	}
	if !operationType.Valid() {
		return TrackingID{}, billing.NewError(billing.CodeInvalidOperationType,
			"unknown operation type "+string(operationType), nil)
	}

	return TrackingID{
		BuildID:       buildID,
		OperationType: operationType,
		OperationID:   operationID,
	}, nil
}
