package motion

// thresholdsForHour selects (base, shadow) from the fixed
// time-of-day schedule in spec §4.7.3. hour is in [0, 23] local time.
func thresholdsForHour(hour int) (base, shadow float64) {
	switch {
	case hour >= 5 && hour <= 7:
		return 30, 50
	case hour >= 8 && hour <= 10:
		return 25, 40
	case hour >= 11 && hour <= 13:
		return 20, 35
	case hour >= 14 && hour <= 16:
		return 25, 40
	case hour >= 17 && hour <= 19:
		return 30, 50
	default: // 20-4
		return 35, 55
	}
}
