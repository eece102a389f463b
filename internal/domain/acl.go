package domain

import "github.com/google/uuid"

// ACL diff engine. These are pure functions over member lists: inputs are
// never mutated, insertion order is preserved, and empty inputs yield empty
// outputs. They drive both the persisted enabled-members list and the live
// migration of already-connected sessions when a room's access lists change.

// CleanSuperusers returns superusers without the owner. The owner role and
// the superuser role are mutually exclusive.
func CleanSuperusers(superusers []MemberRef, owner uuid.UUID) []MemberRef {
	cleaned := make([]MemberRef, 0, len(superusers))
	for _, m := range superusers {
		if !m.Is(owner) {
			cleaned = append(cleaned, m)
		}
	}
	return cleaned
}

// CleanParticipants returns participants without the owner and without anyone
// already holding the superuser role. Together with CleanSuperusers this keeps
// the three role sets disjoint by construction.
func CleanParticipants(participants, superusers []MemberRef, owner uuid.UUID) []MemberRef {
	cleaned := make([]MemberRef, 0, len(participants))
	for _, m := range participants {
		if m.Is(owner) || containsMember(superusers, m.ID) {
			continue
		}
		cleaned = append(cleaned, m)
	}
	return cleaned
}

// UnauthorizedMembers returns the members present in previous but absent from
// update: the users who lost access in this change.
func UnauthorizedMembers(previous, update []MemberRef) []MemberRef {
	lost := make([]MemberRef, 0)
	for _, m := range previous {
		if !containsMember(update, m.ID) {
			lost = append(lost, m)
		}
	}
	return lost
}

// NewlyAuthorizedMembers returns the members present in update but absent from
// previous: the users who gained access in this change.
func NewlyAuthorizedMembers(previous, update []MemberRef) []MemberRef {
	gained := make([]MemberRef, 0)
	for _, m := range update {
		if !containsMember(previous, m.ID) {
			gained = append(gained, m)
		}
	}
	return gained
}

// PatchEnabledMembers applies an authorization delta to the enabled-members
// list and returns the patched list. Removals are applied before additions so
// that a user appearing in both sets (a role change, not an access change)
// ends up present. Appending an already-present member is a no-op. The input
// list is not modified; members added through other paths (password joins)
// are carried over untouched.
func PatchEnabledMembers(enabled, unauthorized, newAuthorized []MemberRef) []MemberRef {
	patched := make([]MemberRef, 0, len(enabled)+len(newAuthorized))
	for _, m := range enabled {
		if !containsMember(unauthorized, m.ID) {
			patched = append(patched, m)
		}
	}
	for _, m := range newAuthorized {
		if !containsMember(patched, m.ID) {
			patched = append(patched, m)
		}
	}
	return patched
}
