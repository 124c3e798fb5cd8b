package logging

import "strings"

// FormatSubject builds the component/participant subject used in console output.
func FormatSubject(component, participant string) string {
	component = strings.TrimSpace(component)
	participant = strings.TrimSpace(participant)
	switch {
	case component != "" && participant != "":
		return component + " · " + participant
	case component != "":
		return component
	default:
		return participant
	}
}
