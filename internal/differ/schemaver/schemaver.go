// Package schemaver provides a small version gate for a Differ's
// Migrate hook: compare a persisted document's schemaVersion against
// the current one and only run a rewrite when the persisted version is
// older.
//
// weave's core never needs this — spec.md's single migrate hook already
// covers schema evolution, and that is a non-goal beyond it. schemaver
// exists so a host's Migrate implementation doesn't have to hand-roll
// version comparison, which is easy to get wrong with plain string
// comparison once versions hit two digits (v1.9 vs v1.10).
package schemaver

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Gate decides whether a migration step should run.
type Gate struct {
	current string // e.g. "v2.0.0"
}

// New returns a Gate for the given current schema version. The version
// must be a valid semver string accepted by golang.org/x/mod/semver
// (a "v" prefix is required; New panics on an invalid version since
// this is a startup-time configuration error, not a runtime one).
func New(current string) Gate {
	if !semver.IsValid(current) {
		panic(fmt.Sprintf("schemaver: invalid current version %q", current))
	}
	return Gate{current: current}
}

// NeedsMigration reports whether a document stamped with persistedVersion
// should be migrated to g's current version. An invalid or empty
// persistedVersion is treated as "older than anything" so legacy
// documents with no version field always migrate.
func (g Gate) NeedsMigration(persistedVersion string) bool {
	if persistedVersion == "" || !semver.IsValid(persistedVersion) {
		return true
	}
	return semver.Compare(persistedVersion, g.current) < 0
}

// Current returns the gate's current schema version.
func (g Gate) Current() string { return g.current }
