package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EntityType names an entity family inside the document.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityAccount      EntityType = "account"
	EntityContact      EntityType = "contact"
	EntityNote         EntityType = "note"
	EntityInteraction  EntityType = "interaction"
	EntityAudit        EntityType = "audit"
	EntityCode         EntityType = "code"
	EntityLink         EntityType = "link"
)

// Valid reports whether t names a known entity family.
func (t EntityType) Valid() bool {
	switch t {
	case EntityOrganization, EntityAccount, EntityContact, EntityNote,
		EntityInteraction, EntityAudit, EntityCode, EntityLink:
		return true
	}
	return false
}

// OrganizationStatus is the lifecycle state of an organization.
type OrganizationStatus string

const (
	OrganizationActive   OrganizationStatus = "active"
	OrganizationInactive OrganizationStatus = "inactive"
	OrganizationProspect OrganizationStatus = "prospect"
)

func (s OrganizationStatus) Valid() bool {
	return s == OrganizationActive || s == OrganizationInactive || s == OrganizationProspect
}

// Organization is a customer company.
type Organization struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Status      OrganizationStatus `json:"status"`
	LogoURI     string             `json:"logoUri,omitempty"`
	Website     string             `json:"website,omitempty"`
	SocialMedia map[string]string  `json:"socialMedia,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive
}

// AuditFrequency is how often an account is expected to be audited.
type AuditFrequency string

const (
	FrequencyNone       AuditFrequency = "none"
	FrequencyWeekly     AuditFrequency = "weekly"
	FrequencyMonthly    AuditFrequency = "monthly"
	FrequencyQuarterly  AuditFrequency = "quarterly"
	FrequencySemiannual AuditFrequency = "semiannual"
	FrequencyAnnual     AuditFrequency = "annual"
)

func (f AuditFrequency) Valid() bool {
	switch f {
	case FrequencyNone, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly,
		FrequencySemiannual, FrequencyAnnual:
		return true
	}
	return false
}

// Account is a serviced site belonging to an organization.
//
// MinFloor and MaxFloor are either both set or both nil. ExcludedFloors
// lies within [MinFloor, MaxFloor] and is kept sorted.
type Account struct {
	ID                      string         `json:"id"`
	OrganizationID          string         `json:"organizationId"`
	Name                    string         `json:"name"`
	Status                  AccountStatus  `json:"status"`
	AuditFrequency          AuditFrequency `json:"auditFrequency"`
	AuditFrequencyUpdatedAt time.Time      `json:"auditFrequencyUpdatedAt"`
	AuditFrequencyAnchorAt  time.Time      `json:"auditFrequencyAnchorAt"`
	MinFloor                *int64         `json:"minFloor,omitempty"`
	MaxFloor                *int64         `json:"maxFloor,omitempty"`
	ExcludedFloors          []int64        `json:"excludedFloors,omitempty"`
	CreatedAt               time.Time      `json:"createdAt"`
	UpdatedAt               time.Time      `json:"updatedAt"`
}

// HasFloors reports whether the account defines a floor range.
func (a Account) HasFloors() bool {
	return a.MinFloor != nil && a.MaxFloor != nil
}

// ContactType distinguishes people from shared inboxes/teams.
type ContactType string

const (
	ContactPerson ContactType = "person"
	ContactTeam   ContactType = "team"
)

func (t ContactType) Valid() bool {
	return t == ContactPerson || t == ContactTeam
}

// ContactMethods holds the reachable addresses of a contact.
type ContactMethods struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// MarshalJSON always emits arrays, never null, so nil and empty method lists
// encode identically.
func (m ContactMethods) MarshalJSON() ([]byte, error) {
	type plain ContactMethods
	p := plain(m)
	if p.Emails == nil {
		p.Emails = []string{}
	}
	if p.Phones == nil {
		p.Phones = []string{}
	}
	return json.Marshal(p)
}

// Contact is a person or team reachable at one or more accounts.
type Contact struct {
	ID        string         `json:"id"`
	Type      ContactType    `json:"type"`
	Name      string         `json:"name"`
	Title     string         `json:"title,omitempty"`
	Methods   ContactMethods `json:"methods"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Note is free text attached to an organization, account or contact.
type Note struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Body       string     `json:"body"`
	Pinned     bool       `json:"pinned"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// InteractionType classifies a logged touchpoint.
type InteractionType string

const (
	InteractionCall    InteractionType = "call"
	InteractionEmail   InteractionType = "email"
	InteractionMeeting InteractionType = "meeting"
	InteractionVisit   InteractionType = "visit"
	InteractionMessage InteractionType = "message"
	InteractionOther   InteractionType = "other"
)

func (t InteractionType) Valid() bool {
	switch t {
	case InteractionCall, InteractionEmail, InteractionMeeting, InteractionVisit,
		InteractionMessage, InteractionOther:
		return true
	}
	return false
}

// Interaction is a touchpoint with an account and/or a contact.
type Interaction struct {
	ID         string          `json:"id"`
	Type       InteractionType `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Summary    string          `json:"summary,omitempty"`
	AccountID  string          `json:"accountId,omitempty"`
	ContactID  string          `json:"contactId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// AuditStatus is the state of an audit. Completed and canceled are
// terminal.
type AuditStatus string

const (
	AuditScheduled AuditStatus = "scheduled"
	AuditCompleted AuditStatus = "completed"
	AuditCanceled  AuditStatus = "canceled"
)

// Terminal reports whether no further transition is allowed.
func (s AuditStatus) Terminal() bool {
	return s == AuditCompleted || s == AuditCanceled
}

// Audit is a scheduled or performed site inspection of an account.
type Audit struct {
	ID              string      `json:"id"`
	AccountID       string      `json:"accountId"`
	ScheduledFor    time.Time   `json:"scheduledFor"`
	DurationMinutes int64       `json:"durationMinutes"`
	Status          AuditStatus `json:"status"`
	OccurredAt      *time.Time  `json:"occurredAt,omitempty"`
	Score           *int64      `json:"score,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	FloorsVisited   []int64     `json:"floorsVisited,omitempty"`
	CanceledAt      *time.Time  `json:"canceledAt,omitempty"`
	CancelReason    string      `json:"cancelReason,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// CodeType classifies an access code.
type CodeType string

const (
	CodeDoor     CodeType = "door"
	CodeAlarm    CodeType = "alarm"
	CodeGate     CodeType = "gate"
	CodeElevator CodeType = "elevator"
	CodeOther    CodeType = "other"
)

func (t CodeType) Valid() bool {
	switch t {
	case CodeDoor, CodeAlarm, CodeGate, CodeElevator, CodeOther:
		return true
	}
	return false
}

// Code is an access code (door, alarm, ...) shared by one or more accounts.
type Code struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Type      CodeType  `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountContact links a contact to an account.
type AccountContact struct {
	AccountID string    `json:"accountId"`
	ContactID string    `json:"contactId"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key is the relation key "accountId/contactId".
func (l AccountContact) Key() string {
	return PairKey(l.AccountID, l.ContactID)
}

// AccountCode links an access code to an account.
type AccountCode struct {
	AccountID string    `json:"accountId"`
	CodeID    string    `json:"codeId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key is the relation key "accountId/codeId".
func (l AccountCode) Key() string {
	return PairKey(l.AccountID, l.CodeID)
}

// Link is a generic directed edge between two entities.
type Link struct {
	ID        string     `json:"id"`
	FromType  EntityType `json:"fromType"`
	FromID    string     `json:"fromId"`
	ToType    EntityType `json:"toType"`
	ToID      string     `json:"toId"`
	Kind      string     `json:"kind"`
	CreatedAt time.Time  `json:"createdAt"`
}

// pairEscaper keeps PairKey injective: "%" and "/" inside an id are
// percent-encoded, so the only bare "/" in a key is the separator.
var pairEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// PairKey is the public relation key of a two-sided link, "left/right".
// Ids without "/" or "%" appear verbatim.
func PairKey(left, right string) string {
	return pairEscaper.Replace(left) + "/" + pairEscaper.Replace(right)
}
