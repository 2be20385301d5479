// Package tier defines subscription tiers and the static registry that maps
// each external data source to the minimum tier allowed to use it.
package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is an ordered subscription level.
type Tier int

const (
	Starter Tier = iota
	Standard
	Premium
)

// ErrUnknownTier is returned by Parse for unrecognized tier names.
var ErrUnknownTier = errors.New("unknown tier")

// All lists every tier in ascending order.
var All = []Tier{Starter, Standard, Premium}

func (t Tier) String() string {
	switch t {
	case Starter:
		return "starter"
	case Standard:
		return "standard"
	case Premium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Starter && t <= Premium
}

// AtLeast reports whether t unlocks anything min unlocks.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// Parse converts a tier name (case-insensitive) into a Tier.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starter", "free", "basic":
		return Starter, nil
	case "standard":
		return Standard, nil
	case "premium":
		return Premium, nil
	default:
		return Starter, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
