package race

import (
	"errors"
	"fmt"
)

// Locations is the fixed, ordered ring of stops. A race path walks this ring
// forward from start to destination, wrapping past Honolulu back to New York,
// so every pair of distinct stops is reachable.
var Locations = []Location{
	{Name: "New York, USA", Coordinates: [2]float64{-74.006, 40.7128}},
	{Name: "Mexico City, Mexico", Coordinates: [2]float64{-99.1332, 19.4326}},
	{Name: "Lima, Peru", Coordinates: [2]float64{-77.0428, -12.0464}},
	{Name: "Rio de Janeiro, Brazil", Coordinates: [2]float64{-43.1729, -22.9068}},
	{Name: "Buenos Aires, Argentina", Coordinates: [2]float64{-58.3816, -34.6037}},
	{Name: "London, UK", Coordinates: [2]float64{-0.1278, 51.5074}},
	{Name: "Paris, France", Coordinates: [2]float64{2.3522, 48.8566}},
	{Name: "Rome, Italy", Coordinates: [2]float64{12.4964, 41.9028}},
	{Name: "Cairo, Egypt", Coordinates: [2]float64{31.2357, 30.0444}},
	{Name: "Nairobi, Kenya", Coordinates: [2]float64{36.8219, -1.2921}},
	{Name: "Johannesburg, South Africa", Coordinates: [2]float64{28.0473, -26.2041}},
	{Name: "Moscow, Russia", Coordinates: [2]float64{37.6173, 55.7558}},
	{Name: "Dubai, UAE", Coordinates: [2]float64{55.2708, 25.2048}},
	{Name: "Mumbai, India", Coordinates: [2]float64{72.8777, 19.076}},
	{Name: "Beijing, China", Coordinates: [2]float64{116.4074, 39.9042}},
	{Name: "Tokyo, Japan", Coordinates: [2]float64{139.6917, 35.6895}},
	{Name: "Sydney, Australia", Coordinates: [2]float64{151.2093, -33.8688}},
	{Name: "Wellington, New Zealand", Coordinates: [2]float64{174.7762, -41.2865}},
	{Name: "Fiji", Coordinates: [2]float64{178.4419, -18.1416}},
	{Name: "Honolulu, USA", Coordinates: [2]float64{-157.8583, 21.3069}},
}

func locationIndex(name string) int {
	for i, l := range Locations {
		if l.Name == name {
			return i
		}
	}
	return -1
}

// BuildPath returns the contiguous run of stops from start to end inclusive,
// walking forward through the ring and wrapping past the last stop back to
// the first when the destination precedes the start. Path length minus one is
// the number of trivia checkpoints in the race.
func BuildPath(start, end string) ([]Location, error) {
	si := locationIndex(start)
	if si == -1 {
		return nil, fmt.Errorf("unknown location %q", start)
	}
	ei := locationIndex(end)
	if ei == -1 {
		return nil, fmt.Errorf("unknown location %q", end)
	}
	if si == ei {
		return nil, errors.New("start and destination must differ")
	}

	if si < ei {
		return append([]Location(nil), Locations[si:ei+1]...), nil
	}

	path := append([]Location(nil), Locations[si:]...)
	return append(path, Locations[:ei+1]...), nil
}
