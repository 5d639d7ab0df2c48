package domain

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/crmorbit/internal/value"
)

// Snapshot is a plain, fully ordered copy of a Document suitable for
// serialization. Slices are ordered by id (relations by key).
type Snapshot struct {
	Organizations []Organization    `json:"organizations"`
	Accounts      []Account         `json:"accounts"`
	Contacts      []Contact         `json:"contacts"`
	Notes         []Note            `json:"notes"`
	Interactions  []Interaction     `json:"interactions"`
	Audits        []Audit           `json:"audits"`
	Codes         []Code            `json:"codes"`
	Relations     SnapshotRelations `json:"relations"`
	Settings      value.Object      `json:"settings"`
}

// SnapshotRelations is the relations sub-aggregate of a Snapshot.
type SnapshotRelations struct {
	AccountContacts []AccountContact `json:"accountContacts"`
	AccountCodes    []AccountCode    `json:"accountCodes"`
	Links           []Link           `json:"links"`
}

// Snapshot copies the document into a Snapshot.
func (d *Document) Snapshot() Snapshot {
	settings := value.Object{}
	d.settings.Each(func(k string, v value.Value) bool {
		settings[k] = value.Clone(v)
		return true
	})
	return Snapshot{
		Organizations: d.organizations.All(),
		Accounts:      d.accounts.All(),
		Contacts:      d.contacts.All(),
		Notes:         d.notes.All(),
		Interactions:  d.interactions.All(),
		Audits:        d.audits.All(),
		Codes:         d.codes.All(),
		Relations: SnapshotRelations{
			AccountContacts: d.accountContacts.All(),
			AccountCodes:    d.accountCodes.All(),
			Links:           d.links.All(),
		},
		Settings: settings,
	}
}

// Canonical returns the RFC 8785 encoding of the document snapshot.
// Documents built from the same ordered events are byte-for-byte equal.
func (d *Document) Canonical() ([]byte, error) {
	data, err := json.Marshal(d.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return value.Canonicalize(data)
}

// Hash returns the content hash of the canonical document.
func (d *Document) Hash() (string, error) {
	data, err := d.Canonical()
	if err != nil {
		return "", err
	}
	return value.HashBytes(value.DomainDocument, data), nil
}

// FromSnapshot rebuilds a Document, including its indexes, from a
// Snapshot. It performs no validation.
func FromSnapshot(s Snapshot) *Document {
	d := Empty()
	for _, o := range s.Organizations {
		d = d.PutOrganization(o)
	}
	for _, a := range s.Accounts {
		d = d.PutAccount(a)
	}
	for _, c := range s.Contacts {
		d = d.PutContact(c)
	}
	for _, n := range s.Notes {
		d = d.PutNote(n)
	}
	for _, i := range s.Interactions {
		d = d.PutInteraction(i)
	}
	for _, a := range s.Audits {
		d = d.PutAudit(a)
	}
	for _, c := range s.Codes {
		d = d.PutCode(c)
	}
	for _, l := range s.Relations.AccountContacts {
		d = d.PutAccountContact(l)
	}
	for _, l := range s.Relations.AccountCodes {
		d = d.PutAccountCode(l)
	}
	for _, l := range s.Relations.Links {
		d = d.PutLink(l)
	}
	for _, k := range s.Settings.SortedKeys() {
		d = d.PutSetting(k, s.Settings[k])
	}
	return d
}
