package domain

import (
	"github.com/roach88/crmorbit/internal/value"
)

// Document is the materialized state of the event log.
type Document struct {
	organizations Table[Organization]
	accounts      Table[Account]
	contacts      Table[Contact]
	notes         Table[Note]
	interactions  Table[Interaction]
	audits        Table[Audit]
	codes         Table[Code]

	accountContacts Table[AccountContact]
	accountCodes    Table[AccountCode]
	links           Table[Link]

	settings Table[value.Value]

	accountsByOrg         index
	auditsByAccount       index
	interactionsByAccount index
	interactionsByContact index
	notesByEntity         index
	contactsByAccount     index
	accountsByContact     index
	codesByAccount        index
	accountsByCode        index
	linksByEntity         index
}

// Empty returns the initial document every replay starts from.
func Empty() *Document {
	return &Document{
		organizations:         newTable[Organization](),
		accounts:              newTable[Account](),
		contacts:              newTable[Contact](),
		notes:                 newTable[Note](),
		interactions:          newTable[Interaction](),
		audits:                newTable[Audit](),
		codes:                 newTable[Code](),
		accountContacts:       newTable[AccountContact](),
		accountCodes:          newTable[AccountCode](),
		links:                 newTable[Link](),
		settings:              newTable[value.Value](),
		accountsByOrg:         newIndex(),
		auditsByAccount:       newIndex(),
		interactionsByAccount: newIndex(),
		interactionsByContact: newIndex(),
		notesByEntity:         newIndex(),
		contactsByAccount:     newIndex(),
		accountsByContact:     newIndex(),
		codesByAccount:        newIndex(),
		accountsByCode:        newIndex(),
		linksByEntity:         newIndex(),
	}
}

func (d *Document) clone() *Document {
	cp := *d
	return &cp
}

func (d *Document) Organizations() Table[Organization] { return d.organizations }
func (d *Document) Accounts() Table[Account]           { return d.accounts }
func (d *Document) Contacts() Table[Contact]           { return d.contacts }
func (d *Document) Notes() Table[Note]                 { return d.notes }
func (d *Document) Interactions() Table[Interaction]   { return d.interactions }
func (d *Document) Audits() Table[Audit]               { return d.audits }
func (d *Document) Codes() Table[Code]                 { return d.codes }
func (d *Document) AccountContacts() Table[AccountContact] {
	return d.accountContacts
}
func (d *Document) AccountCodes() Table[AccountCode] { return d.accountCodes }
func (d *Document) Links() Table[Link]               { return d.links }
func (d *Document) Settings() Table[value.Value]     { return d.settings }

// Exists reports whether an entity of type t with id is present.
func (d *Document) Exists(t EntityType, id string) bool {
	switch t {
	case EntityOrganization:
		return d.organizations.Has(id)
	case EntityAccount:
		return d.accounts.Has(id)
	case EntityContact:
		return d.contacts.Has(id)
	case EntityNote:
		return d.notes.Has(id)
	case EntityInteraction:
		return d.interactions.Has(id)
	case EntityAudit:
		return d.audits.Has(id)
	case EntityCode:
		return d.codes.Has(id)
	case EntityLink:
		return d.links.Has(id)
	}
	return false
}

// PutOrganization inserts or replaces o.
func (d *Document) PutOrganization(o Organization) *Document {
	cp := d.clone()
	cp.organizations = d.organizations.put(o.ID, o)
	return cp
}

// DeleteOrganization removes the organization with id.
func (d *Document) DeleteOrganization(id string) *Document {
	cp := d.clone()
	cp.organizations = d.organizations.remove(id)
	return cp
}

// AccountsOf returns the ids of accounts owned by the organization.
func (d *Document) AccountsOf(organizationID string) []string {
	return d.accountsByOrg.members(organizationID)
}

// PutAccount inserts or replaces a, keeping the organization index current.
func (d *Document) PutAccount(a Account) *Document {
	cp := d.clone()
	if prev, ok := d.accounts.Get(a.ID); ok && prev.OrganizationID != a.OrganizationID {
		cp.accountsByOrg = cp.accountsByOrg.remove(prev.OrganizationID, a.ID)
	}
	cp.accounts = d.accounts.put(a.ID, a)
	cp.accountsByOrg = cp.accountsByOrg.add(a.OrganizationID, a.ID)
	return cp
}

// DeleteAccount removes the account with id.
func (d *Document) DeleteAccount(id string) *Document {
	prev, ok := d.accounts.Get(id)
	if !ok {
		return d
	}
	cp := d.clone()
	cp.accounts = d.accounts.remove(id)
	cp.accountsByOrg = d.accountsByOrg.remove(prev.OrganizationID, id)
	return cp
}

// PutContact inserts or replaces c.
func (d *Document) PutContact(c Contact) *Document {
	cp := d.clone()
	cp.contacts = d.contacts.put(c.ID, c)
	return cp
}

// DeleteContact removes the contact with id.
func (d *Document) DeleteContact(id string) *Document {
	cp := d.clone()
	cp.contacts = d.contacts.remove(id)
	return cp
}

// NotesFor returns the ids of notes attached to the entity.
func (d *Document) NotesFor(t EntityType, id string) []string {
	return d.notesByEntity.members(entityRef(t, id))
}

// PutNote inserts or replaces n.
func (d *Document) PutNote(n Note) *Document {
	cp := d.clone()
	if prev, ok := d.notes.Get(n.ID); ok {
		cp.notesByEntity = cp.notesByEntity.remove(entityRef(prev.EntityType, prev.EntityID), n.ID)
	}
	cp.notes = d.notes.put(n.ID, n)
	cp.notesByEntity = cp.notesByEntity.add(entityRef(n.EntityType, n.EntityID), n.ID)
	return cp
}

// DeleteNote removes the note with id.
func (d *Document) DeleteNote(id string) *Document {
	prev, ok := d.notes.Get(id)
	if !ok {
		return d
	}
	cp := d.clone()
	cp.notes = d.notes.remove(id)
	cp.notesByEntity = d.notesByEntity.remove(entityRef(prev.EntityType, prev.EntityID), id)
	return cp
}

// InteractionsForAccount returns interaction ids logged against the account.
func (d *Document) InteractionsForAccount(accountID string) []string {
	return d.interactionsByAccount.members(accountID)
}

// InteractionsForContact returns interaction ids logged against the contact.
func (d *Document) InteractionsForContact(contactID string) []string {
	return d.interactionsByContact.members(contactID)
}

// PutInteraction inserts or replaces i.
func (d *Document) PutInteraction(i Interaction) *Document {
	cp := d.clone()
	if prev, ok := d.interactions.Get(i.ID); ok {
		cp = cp.unindexInteraction(prev)
	}
	cp.interactions = d.interactions.put(i.ID, i)
	if i.AccountID != "" {
		cp.interactionsByAccount = cp.interactionsByAccount.add(i.AccountID, i.ID)
	}
	if i.ContactID != "" {
		cp.interactionsByContact = cp.interactionsByContact.add(i.ContactID, i.ID)
	}
	return cp
}

// DeleteInteraction removes the interaction with id.
func (d *Document) DeleteInteraction(id string) *Document {
	prev, ok := d.interactions.Get(id)
	if !ok {
		return d
	}
	cp := d.clone().unindexInteraction(prev)
	cp.interactions = d.interactions.remove(id)
	return cp
}

// unindexInteraction mutates d; callers pass a fresh clone.
func (d *Document) unindexInteraction(i Interaction) *Document {
	if i.AccountID != "" {
		d.interactionsByAccount = d.interactionsByAccount.remove(i.AccountID, i.ID)
	}
	if i.ContactID != "" {
		d.interactionsByContact = d.interactionsByContact.remove(i.ContactID, i.ID)
	}
	return d
}

// AuditsFor returns the ids of audits of the account.
func (d *Document) AuditsFor(accountID string) []string {
	return d.auditsByAccount.members(accountID)
}

// PutAudit inserts or replaces a.
func (d *Document) PutAudit(a Audit) *Document {
	cp := d.clone()
	if prev, ok := d.audits.Get(a.ID); ok && prev.AccountID != a.AccountID {
		cp.auditsByAccount = cp.auditsByAccount.remove(prev.AccountID, a.ID)
	}
	cp.audits = d.audits.put(a.ID, a)
	cp.auditsByAccount = cp.auditsByAccount.add(a.AccountID, a.ID)
	return cp
}

// DeleteAudit removes the audit with id.
func (d *Document) DeleteAudit(id string) *Document {
	prev, ok := d.audits.Get(id)
	if !ok {
		return d
	}
	cp := d.clone()
	cp.audits = d.audits.remove(id)
	cp.auditsByAccount = d.auditsByAccount.remove(prev.AccountID, id)
	return cp
}

// PutCode inserts or replaces c.
func (d *Document) PutCode(c Code) *Document {
	cp := d.clone()
	cp.codes = d.codes.put(c.ID, c)
	return cp
}

// DeleteCode removes the code with id.
func (d *Document) DeleteCode(id string) *Document {
	cp := d.clone()
	cp.codes = d.codes.remove(id)
	return cp
}

// ContactsOf returns the ids of contacts linked to the account.
func (d *Document) ContactsOf(accountID string) []string {
	return d.contactsByAccount.members(accountID)
}

// AccountsOfContact returns the ids of accounts the contact is linked to.
func (d *Document) AccountsOfContact(contactID string) []string {
	return d.accountsByContact.members(contactID)
}

// PutAccountContact records the link.
func (d *Document) PutAccountContact(l AccountContact) *Document {
	cp := d.clone()
	cp.accountContacts = d.accountContacts.put(l.Key(), l)
	cp.contactsByAccount = d.contactsByAccount.add(l.AccountID, l.ContactID)
	cp.accountsByContact = d.accountsByContact.add(l.ContactID, l.AccountID)
	return cp
}

// DeleteAccountContact removes the link between account and contact.
func (d *Document) DeleteAccountContact(accountID, contactID string) *Document {
	cp := d.clone()
	cp.accountContacts = d.accountContacts.remove(PairKey(accountID, contactID))
	cp.contactsByAccount = d.contactsByAccount.remove(accountID, contactID)
	cp.accountsByContact = d.accountsByContact.remove(contactID, accountID)
	return cp
}

// CodesOf returns the ids of codes linked to the account.
func (d *Document) CodesOf(accountID string) []string {
	return d.codesByAccount.members(accountID)
}

// AccountsOfCode returns the ids of accounts the code is linked to.
func (d *Document) AccountsOfCode(codeID string) []string {
	return d.accountsByCode.members(codeID)
}

// PutAccountCode records the link.
func (d *Document) PutAccountCode(l AccountCode) *Document {
	cp := d.clone()
	cp.accountCodes = d.accountCodes.put(l.Key(), l)
	cp.codesByAccount = d.codesByAccount.add(l.AccountID, l.CodeID)
	cp.accountsByCode = d.accountsByCode.add(l.CodeID, l.AccountID)
	return cp
}

// DeleteAccountCode removes the link between account and code.
func (d *Document) DeleteAccountCode(accountID, codeID string) *Document {
	cp := d.clone()
	cp.accountCodes = d.accountCodes.remove(PairKey(accountID, codeID))
	cp.codesByAccount = d.codesByAccount.remove(accountID, codeID)
	cp.accountsByCode = d.accountsByCode.remove(codeID, accountID)
	return cp
}

// LinksFor returns ids of generic links touching the entity on either end.
func (d *Document) LinksFor(t EntityType, id string) []string {
	return d.linksByEntity.members(entityRef(t, id))
}

// PutLink inserts or replaces l.
func (d *Document) PutLink(l Link) *Document {
	cp := d.clone()
	if prev, ok := d.links.Get(l.ID); ok {
		cp.linksByEntity = cp.linksByEntity.
			remove(entityRef(prev.FromType, prev.FromID), l.ID).
			remove(entityRef(prev.ToType, prev.ToID), l.ID)
	}
	cp.links = d.links.put(l.ID, l)
	cp.linksByEntity = cp.linksByEntity.
		add(entityRef(l.FromType, l.FromID), l.ID).
		add(entityRef(l.ToType, l.ToID), l.ID)
	return cp
}

// DeleteLink removes the link with id.
func (d *Document) DeleteLink(id string) *Document {
	prev, ok := d.links.Get(id)
	if !ok {
		return d
	}
	cp := d.clone()
	cp.links = d.links.remove(id)
	cp.linksByEntity = d.linksByEntity.
		remove(entityRef(prev.FromType, prev.FromID), id).
		remove(entityRef(prev.ToType, prev.ToID), id)
	return cp
}

// PutSetting stores v under key.
func (d *Document) PutSetting(key string, v value.Value) *Document {
	cp := d.clone()
	cp.settings = d.settings.put(key, value.Clone(v))
	return cp
}

// DeleteSetting removes key.
func (d *Document) DeleteSetting(key string) *Document {
	cp := d.clone()
	cp.settings = d.settings.remove(key)
	return cp
}
