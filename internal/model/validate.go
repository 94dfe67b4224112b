package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrValidation marks caller input that was rejected before any write.
var ErrValidation = errors.New("validation")

// DateLayout is the ISO calendar date format used for every date column.
const DateLayout = "2006-01-02"

// ParseDate validates an ISO YYYY-MM-DD date and returns it unchanged.
func ParseDate(s string) (string, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrValidation, s)
	}
	return s, nil
}

// ValidateConfidence checks that c lies in [0, 1].
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, c)
	}
	return nil
}

// ParseRoles parses a CSV list of role tokens. Duplicates are removed and the
// result is sorted so queries built from it are stable. An empty list is an error.
func ParseRoles(csv string) ([]Role, error) {
	seen := make(map[Role]bool)
	var roles []Role
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		r, err := ParseRole(tok)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: role filter is empty", ErrValidation)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// RoleStrings converts roles to plain strings for query arguments.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
