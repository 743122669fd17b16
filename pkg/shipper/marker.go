package shipper

import "strings"

const markerPrefix = "EOID:"

// Marker returns the placeholder tracking number stored after a provider
// order was created but the label could not be issued.
func Marker(externalID string) string {
	return markerPrefix + externalID
}

// ParseMarker extracts the external order id from a marker.
func ParseMarker(tracking string) (string, bool) {
	id, ok := strings.CutPrefix(strings.TrimSpace(tracking), markerPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
