package models

import (
	"errors"
	"fmt"
	"strings"
)

// Venue names the exchange whose market data the scan backend reads and whose
// trading UI a result deep-links to.
type Venue string

const (
	VenueBinance  Venue = "binance"
	VenueBybit    Venue = "bybit"
	VenueMEXC     Venue = "mexc"
	VenueCoinbase Venue = "coinbase"
)

// ErrUnsupportedVenue is returned for venue identifiers outside the fixed set.
var ErrUnsupportedVenue = errors.New("unsupported venue")

// Venues lists the supported venues in display order.
var Venues = []Venue{VenueBinance, VenueBybit, VenueMEXC, VenueCoinbase}

var venueNames = map[Venue]string{
	VenueBinance:  "Binance",
	VenueBybit:    "Bybit",
	VenueMEXC:     "MEXC",
	VenueCoinbase: "Coinbase",
}

// ParseVenue accepts a venue id in any case.
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := venueNames[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVenue, s)
	}
	return v, nil
}

// Valid reports whether v is one of the supported venues.
func (v Venue) Valid() bool {
	_, ok := venueNames[v]
	return ok
}

// DisplayName returns the human readable venue name.
func (v Venue) DisplayName() string {
	if name, ok := venueNames[v]; ok {
		return name
	}
	return string(v)
}

func (v Venue) String() string {
	return string(v)
}
