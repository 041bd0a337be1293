// Package registration turns a sign-up into an identity provider user, a
// stored person, and one membership per eligible pending invitation.
//
// Reconcile runs the workflow for one registration. Repair re-runs the
// membership step for recent persons, covering registrations that were
// interrupted after the person was stored.
package registration
