// Package tier maps a guild member's roles onto one of the three ring tiers.
package tier

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Tier selects which ring overlay a member gets.
type Tier int

const (
	Daoist Tier = iota + 1
	Fren
	Regular
)

// ErrNoQualifyingRole is returned when a member holds none of the tier roles.
var ErrNoQualifyingRole = errors.New("user is not a DAOist, fren or regular")

// precedence is highest tier first. A member holding several tier roles gets
// the first match.
var precedence = []Tier{Daoist, Fren, Regular}

// Precedence returns the tiers in resolution order.
func Precedence() []Tier {
	return slices.Clone(precedence)
}

func (t Tier) String() string {
	switch t {
	case Daoist:
		return "daoist"
	case Fren:
		return "fren"
	case Regular:
		return "regular"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Parse accepts the lower-case names produced by String, plus the plural
// forms used in the overlay env var names.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daoist", "daoists":
		return Daoist, nil
	case "fren", "frens":
		return Fren, nil
	case "regular", "regulars":
		return Regular, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Roles maps each tier to its Discord role id.
type Roles map[Tier]string

// Resolve returns the highest-precedence tier whose role appears in memberRoles.
func Resolve(memberRoles []string, roles Roles) (Tier, error) {
	for _, t := range precedence {
		id, ok := roles[t]
		if !ok || id == "" {
			continue
		}
		if slices.Contains(memberRoles, id) {
			return t, nil
		}
	}
	return 0, ErrNoQualifyingRole
}
