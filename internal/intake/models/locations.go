package models

import (
	"fmt"
	"net/url"
	"strings"
)

// locationNames maps the target application's opaque location IDs to their
// display names. The queue URL carries only the ID; the name is attached at
// capture time so stored records stay readable without this table.
var locationNames = map[string]string{
	"AWRBj6": "Exer Urgent Care - Anaheim - Euclid St",
	"ABr1Nd": "Exer Urgent Care - Anaheim - State College Blvd",
	"g5rawn": "Exer Urgent Care - Beaumont",
	"gKe2Nj": "Exer Urgent Care - Beverly Hills",
	"v0mYy0": "Exer Urgent Care - Calabasas - Agoura Rd",
	"gdeYvE": "Exer Urgent Care - Calabasas - Mulholland Dr",
	"0V37aA": "Exer Urgent Care - Camarillo",
	"ABOklp": "Exer Urgent Care - Canyon Country",
	"A4NEvv": "Exer Urgent Care - Costa Mesa",
	"gw8Ky1": "Exer Urgent Care - Covina",
	"p3Xkkg": "Exer Urgent Care - Culver City - 8985 Venice Blvd",
	"A6JY29": "Exer Urgent Care - Culver City - 9726 Venice Blvd",
	"AXjwbE": "Exer Urgent Care - Demo",
	"gbx2w3": "Exer Urgent Care - Downtown",
	"AGGzMe": "Exer Urgent Care - Eagle Rock",
	"goBwnJ": "Exer Urgent Care - Glendale",
	"0r7Kd2": "Exer Urgent Care - Glendora",
	"gLXaG2": "Exer Urgent Care - Highland",
	"0md8a5": "Exer Urgent Care - Hollywood - Melrose Ave",
	"gqo6xN": "Exer Urgent Care - Hollywood - Willoughby Ave",
	"gZ86G6": "Exer Urgent Care - Huntington Park",
	"0edRx4": "Exer Urgent Care - Irvine",
	"gwdX30": "Exer Urgent Care - La Canada Flintridge",
	"gZ89yL": "Exer Urgent Care - Lakewood",
	"AzxK8o": "Exer Urgent Care - Lawndale",
	"A9OjD6": "Exer Urgent Care - Long Beach - Long Beach Blvd",
	"gbx2LQ": "Exer Urgent Care - Long Beach - PCH",
	"A2BbY8": "Exer Urgent Care - Long Beach - Willow St",
	"AGeveg": "Exer Urgent Care - Manhattan Beach",
	"gd8Pav": "Exer Urgent Care - Marina Del Rey",
	"gNLDRo": "Exer Urgent Care - Moorpark",
	"PgoEoA": "Exer Urgent Care - Newbury Park",
	"py6Ko8": "Exer Urgent Care - North Hollywood",
	"gonMGp": "Exer Urgent Care - Northridge",
	"A4N23m": "Exer Urgent Care - Pasadena - Allen Ave",
	"xAzoMp": "Exer Urgent Care - Pasadena - East Del Mar Blvd",
	"p8dEeq": "Exer Urgent Care - Pasadena - Lake Ave",
	"0EBZmJ": "Exer Urgent Care - Pasadena - South Fair Oaks Ave",
	"0x1KEk": "Exer Urgent Care - Physical Therapy",
	"0edXQB": "Exer Urgent Care - Playa Vista",
	"0x1Kdb": "Exer Urgent Care - Porter Ranch",
	"pDJxXl": "Exer Urgent Care - Rancho Palos Verdes",
	"07wDB3": "Exer Urgent Care - Redlands",
	"0m8YDg": "Exer Urgent Care - Redondo Beach",
	"0mOPvp": "Exer Urgent Care - Rolling Hills Estates",
	"gQKXVv": "Exer Urgent Care - Santa Monica - Colorado Blvd",
	"0O3mL1": "Exer Urgent Care - Santa Monica - Wilshire Blvd",
	"ABG1Np": "Exer Urgent Care - Sherman Oaks - Riverside",
	"gbx2W1": "Exer Urgent Care - Sherman Oaks - Ventura Blvd",
	"pyX2a6": "Exer Urgent Care - Silver Lake",
	"gKEwQA": "Exer Urgent Care - Stevenson Ranch",
	"gJMwx7": "Exer Urgent Care - Tarzana",
	"g1B9aR": "Exer Urgent Care - Thousand Oaks",
	"AGL7qR": "Exer Urgent Care - Torrance - PCH",
	"pjOLzD": "Exer Urgent Care - Torrance - Sepulveda Blvd",
	"AvXK8d": "Exer Urgent Care - Venice - Lincoln Blvd",
	"gZ867B": "Exer Urgent Care - Virtual Care",
	"0OMDWp": "Exer Urgent Care - West Hills",
	"AvXZa3": "Exer Urgent Care - West Hollywood - La Brea Ave",
	"p8P9bp": "Exer Urgent Care - West Hollywood - Sunset Blvd",
	"gJBEQl": "Exer Urgent Care - West Los Angeles",
	"plvWN0": "Exer Urgent Care - Westlake Village",
	"07okv0": "Exer Urgent Care - Westwood",
	"0VGVeM": "Exer Urgent Care - Whittier",
}

// LocationName resolves a location ID to its display name. Unknown IDs get a
// descriptive fallback rather than an error; new clinics appear before this
// table learns about them.
func LocationName(locationID string) string {
	if name, ok := locationNames[locationID]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Location (%s)", locationID)
}

// LocationIDFromURL pulls the location_ids query parameter out of a queue
// page URL. The queue can be opened for several locations at once; the first
// listed one attributes the capture. Returns "" when the URL has none.
func LocationIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ids := u.Query().Get("location_ids")
	if i := strings.IndexByte(ids, ','); i >= 0 {
		ids = ids[:i]
	}
	return ids
}
