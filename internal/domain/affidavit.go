// Package domain contains the CRMS entities the agent reasons about,
// without transport or lifecycle logic.
package domain

type (
	AffidavitID string
	RoomID      string
	StreamID    string
)

// OathState tracks the virtual-oath workflow of one affidavit. It is
// separate from the affidavit's own approval status and only ever
// moves forward.
type OathState string

const (
	OathNone      OathState = "none"
	OathRequested OathState = "requested"
	OathCompleted OathState = "completed"
)

var oathRank = map[OathState]int{
	OathNone:      0,
	OathRequested: 1,
	OathCompleted: 2,
}

// CanAdvanceTo reports whether moving to next is a forward transition.
// Completed never regresses.
func (s OathState) CanAdvanceTo(next OathState) bool {
	cur, ok := oathRank[s]
	if !ok {
		return false
	}
	n, ok := oathRank[next]
	if !ok {
		return false
	}
	return n >= cur
}

// RecordStatus is the affidavit's own lifecycle. Only submitted
// records may hold an active oath session.
type RecordStatus string

const (
	StatusSubmitted RecordStatus = "submitted"
	StatusCompleted RecordStatus = "completed"
	StatusRejected  RecordStatus = "rejected"
)

// Affidavit mirrors the server-owned session record as the backend
// reports it. LastSeenAt is kept raw; the backend emits naive
// timestamps and the presence package normalizes them to UTC.
type Affidavit struct {
	ID         AffidavitID  `json:"id"`
	Status     RecordStatus `json:"status"`
	OathState  OathState    `json:"oathState"`
	MeetingID  RoomID       `json:"meetingId"`
	LastSeenAt string       `json:"lastSeenAt,omitempty"`
}

// SessionEligible reports whether the record may hold an active oath
// session at all.
func (a *Affidavit) SessionEligible() bool {
	return a.Status == StatusSubmitted
}
