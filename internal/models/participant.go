package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParticipantKind discriminates the two identity spaces a conversation
// party can belong to. The wire contract calls this field senderModel.
type ParticipantKind string

const (
	KindUser   ParticipantKind = "User"
	KindExpert ParticipantKind = "Expert"
)

func (k ParticipantKind) Valid() bool {
	return k == KindUser || k == KindExpert
}

// Role maps the identity space to the session role string carried in
// JWT claims ("user" / "expert").
func (k ParticipantKind) Role() string {
	if k == KindExpert {
		return "expert"
	}
	return "user"
}

func (k ParticipantKind) Counterpart() ParticipantKind {
	if k == KindUser {
		return KindExpert
	}
	return KindUser
}

// KindForRole is the inverse of ParticipantKind.Role.
func KindForRole(role string) (ParticipantKind, bool) {
	switch role {
	case "user":
		return KindUser, true
	case "expert":
		return KindExpert, true
	default:
		return "", false
	}
}

// Participant is a tagged reference into one of the two identity
// spaces. It is the unit every store operation is keyed by.
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   int64           `json:"id"`
}

func (p Participant) Valid() bool {
	return p.Kind.Valid() && p.ID > 0
}

func (p Participant) Equal(other Participant) bool {
	return p.Kind == other.Kind && p.ID == other.ID
}

// Token is the stable string encoding used for readBy entries,
// presence keys and gateway channel keys, e.g. "User:42".
func (p Participant) Token() string {
	return string(p.Kind) + ":" + strconv.FormatInt(p.ID, 10)
}

func ParseParticipantToken(token string) (Participant, error) {
	kind, rawID, ok := strings.Cut(token, ":")
	if !ok {
		return Participant{}, fmt.Errorf("malformed participant token %q", token)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Participant{}, fmt.Errorf("malformed participant token %q", token)
	}
	p := Participant{Kind: ParticipantKind(kind), ID: id}
	if !p.Valid() {
		return Participant{}, fmt.Errorf("malformed participant token %q", token)
	}
	return p, nil
}
