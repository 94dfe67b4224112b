// Package model defines the core domain types for hemiciclo.
//
// All types correspond directly to database tables and normalized scraper
// payloads. Types use strong typing (enums, explicit pointers for nullable
// columns) and never pass raw key/value maps past the ingest boundary.
package model

import "fmt"

// Stance is the qualitative position a person holds on a topic.
type Stance string

const (
	StanceSupport  Stance = "support"
	StanceOppose   Stance = "oppose"
	StanceMixed    Stance = "mixed"
	StanceUnclear  Stance = "unclear"
	StanceNoSignal Stance = "no_signal"
)

var validStances = map[Stance]bool{
	StanceSupport:  true,
	StanceOppose:   true,
	StanceMixed:    true,
	StanceUnclear:  true,
	StanceNoSignal: true,
}

// ParseStance validates a stance token.
func ParseStance(s string) (Stance, error) {
	st := Stance(s)
	if !validStances[st] {
		return "", fmt.Errorf("%w: unknown stance %q", ErrValidation, s)
	}
	return st, nil
}

// Polarity returns the signed numeric form of a stance.
// Mixed, unclear and no_signal all map to 0.
func (s Stance) Polarity() int {
	switch s {
	case StanceSupport:
		return 1
	case StanceOppose:
		return -1
	default:
		return 0
	}
}

// ValidPolarity reports whether p is one of -1, 0, 1.
func ValidPolarity(p int) bool {
	return p >= -1 && p <= 1
}
