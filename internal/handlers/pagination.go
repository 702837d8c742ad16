package handlers

import "strconv"

const (
	defaultListLimit    = 50
	maxListLimit        = 100
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

func parsePositiveInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
