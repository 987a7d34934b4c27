package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownProfileKeys are the valid keys inside a [profile.X] section. Sorted
// for deterministic suggestions when two candidates have the same edit
// distance.
var knownProfileKeys = []string{
	"auth", "client_id", "client_secret", "password", "realm", "site_url", "username",
}

// knownLoggingKeys are the valid keys inside the [logging] section.
var knownLoggingKeys = []string{"level"}

// knownTopLevelKeys are the valid top-level table names.
var knownTopLevelKeys = []string{"logging", "profile"}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with a "did you mean?" suggestion for each unknown key that is close
// to a known one.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	sort.Strings(keys)

	errs := make([]error, 0, len(keys))
	for _, key := range keys {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError creates a descriptive error for an unknown key, matching
// its leaf segment against the known keys of the section it appears in.
func unknownKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")

	var known []string

	switch {
	case parts[0] == "profile" && len(parts) == 3:
		known = knownProfileKeys
	case parts[0] == "logging" && len(parts) == 2:
		known = knownLoggingKeys
	default:
		known = knownTopLevelKeys
	}

	leaf := parts[len(parts)-1]

	if suggestion := closestMatch(leaf, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 0; i < len(a); i++ {
		curr[0] = i + 1

		for j := 0; j < len(b); j++ {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
