// Package kex narrows the key exchange algorithms a transport advertises to
// the ones the server can actually complete.
package kex

import (
	"log/slog"

	"sshgate/internal/log"
)

// Filter returns the key exchange algorithms to advertise.
//
// With moduli available every supported algorithm is returned unchanged.
// Without them only the algorithms for which isFixedGroup reports true are
// kept, in their original order, and a warning is logged.
//
// The supported slice is never modified.
func Filter(supported []string, moduliAvailable bool, isFixedGroup func(string) bool, logger *slog.Logger) []string {
	if moduliAvailable {
		return supported
	}

	log.OrDefault(logger).Warn("disabling non-fixed-group key exchange algorithms because we cannot find moduli file")

	kept := make([]string, 0, len(supported))
	for _, algo := range supported {
		if isFixedGroup(algo) {
			kept = append(kept, algo)
		}
	}
	return kept
}
