package changelog

import "strings"

const (
	colIsProcessed = "IsProcessed"
	colExternalID  = "ExternalEventId"
	colActionType  = "ActionType"
	colTimestamp   = "Timestamp"
	colIsAllDay    = "IsAllDay"
	colSubject     = "Subject"
	colBody        = "Body"
	colLocation    = "Location"
	colStartTime   = "StartTime"
	colEndTime     = "EndTime"
)

var requiredColumns = []string{
	colIsProcessed,
	colExternalID,
	colActionType,
	colTimestamp,
	colIsAllDay,
	colSubject,
	colBody,
	colLocation,
	colStartTime,
	colEndTime,
}

// Older exporters wrote the id column under the Outlook name.
var columnAliases = map[string]string{
	"outlook event id": colExternalID,
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// canonicalColumn maps a header cell to its required column name.
func canonicalColumn(header string) (string, bool) {
	n := normalizeHeader(header)
	if alias, ok := columnAliases[n]; ok {
		return alias, true
	}
	for _, c := range requiredColumns {
		if normalizeHeader(c) == n {
			return c, true
		}
	}
	return "", false
}
