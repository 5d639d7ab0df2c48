package event

import (
	"slices"
	"strings"
)

// Type names a single kind of event, e.g. "audit.completed".
type Type string

// Family groups event types by the entity family whose reducer owns them.
type Family string

const (
	FamilyOrganization Family = "organization"
	FamilyAccount      Family = "account"
	FamilyContact      Family = "contact"
	FamilyNote         Family = "note"
	FamilyInteraction  Family = "interaction"
	FamilyAudit        Family = "audit"
	FamilyCode         Family = "code"
	FamilyRelation     Family = "relation"
	FamilySettings     Family = "settings"
)

const (
	OrganizationCreated Type = "organization.created"
	OrganizationUpdated Type = "organization.updated"
	OrganizationDeleted Type = "organization.deleted"

	AccountCreated Type = "account.created"
	AccountUpdated Type = "account.updated"
	AccountDeleted Type = "account.deleted"

	ContactCreated Type = "contact.created"
	ContactUpdated Type = "contact.updated"
	ContactDeleted Type = "contact.deleted"

	NoteCreated Type = "note.created"
	NoteUpdated Type = "note.updated"
	NoteDeleted Type = "note.deleted"

	InteractionCreated Type = "interaction.created"
	InteractionUpdated Type = "interaction.updated"
	InteractionDeleted Type = "interaction.deleted"

	// AuditCreated is accepted as an alias of AuditScheduled.
	AuditCreated     Type = "audit.created"
	AuditScheduled   Type = "audit.scheduled"
	AuditRescheduled Type = "audit.rescheduled"
	AuditCompleted   Type = "audit.completed"
	AuditCanceled    Type = "audit.canceled"
	AuditUpdated     Type = "audit.updated"
	AuditDeleted     Type = "audit.deleted"

	CodeCreated Type = "code.created"
	CodeUpdated Type = "code.updated"
	CodeDeleted Type = "code.deleted"

	AccountContactLinked   Type = "relation.account_contact.linked"
	AccountContactUnlinked Type = "relation.account_contact.unlinked"
	AccountCodeLinked      Type = "relation.account_code.linked"
	AccountCodeUnlinked    Type = "relation.account_code.unlinked"
	EntityLinked           Type = "relation.entity.linked"
	EntityUnlinked         Type = "relation.entity.unlinked"

	SettingsUpdated Type = "settings.updated"
)

var knownTypes = map[Type]struct{}{
	OrganizationCreated: {}, OrganizationUpdated: {}, OrganizationDeleted: {},
	AccountCreated: {}, AccountUpdated: {}, AccountDeleted: {},
	ContactCreated: {}, ContactUpdated: {}, ContactDeleted: {},
	NoteCreated: {}, NoteUpdated: {}, NoteDeleted: {},
	InteractionCreated: {}, InteractionUpdated: {}, InteractionDeleted: {},
	AuditCreated: {}, AuditScheduled: {}, AuditRescheduled: {}, AuditCompleted: {},
	AuditCanceled: {}, AuditUpdated: {}, AuditDeleted: {},
	CodeCreated: {}, CodeUpdated: {}, CodeDeleted: {},
	AccountContactLinked: {}, AccountContactUnlinked: {},
	AccountCodeLinked: {}, AccountCodeUnlinked: {},
	EntityLinked: {}, EntityUnlinked: {},
	SettingsUpdated: {},
}

// Family returns the family prefix of t (the text before the first dot).
func (t Type) Family() Family {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Family(s[:i])
	}
	return Family(s)
}

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// KnownTypes returns every declared type, sorted.
func KnownTypes() []Type {
	out := make([]Type, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
