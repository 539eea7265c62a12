package weather

import (
	"fmt"
	"strings"
)

// Feel buckets a temperature in Celsius.
func Feel(tempC float64) string {
	switch {
	case tempC <= 5:
		return "freezing"
	case tempC <= 12:
		return "cold"
	case tempC <= 20:
		return "cool"
	case tempC <= 28:
		return "pleasant"
	default:
		return "hot"
	}
}

// Summarize renders "It feels <feel> with <description>."
func Summarize(tempC float64, description string) string {
	return fmt.Sprintf("It feels %s with %s.", Feel(tempC), description)
}

// Recommend suggests what to do given a weather description.
func Recommend(description string) string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "rain"), strings.Contains(desc, "storm"):
		return "Umbrella advised."
	case strings.Contains(desc, "snow"):
		return "Bundle up and watch for slick roads."
	case strings.Contains(desc, "clear"):
		return "Great time for a walk outside."
	default:
		return "Dress comfortably for the conditions."
	}
}
