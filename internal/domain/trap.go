package domain

import "time"

// TrapRecord is one mosquito-trap collection with a WGS84 location.
type TrapRecord struct {
	TrapID string
	Date   time.Time
	Lon    float64
	Lat    float64
	Count  float64
}

// TrapTally summarises trap collections falling inside a zone on a date.
type TrapTally struct {
	ZoneID string
	Date   time.Time
	Traps  int
	Count  float64
}
