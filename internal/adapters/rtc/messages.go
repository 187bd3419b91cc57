package rtc

import (
	"github.com/crms-dev/oathcall/internal/core"
)

type messageType string

const (
	msgLogin     messageType = "login"
	msgLoginOK   messageType = "login_ok"
	msgPublish   messageType = "publish"
	msgPlay      messageType = "play"
	msgStop      messageType = "stop"
	msgAnswer    messageType = "answer"
	msgCandidate messageType = "candidate"
	msgPresence  messageType = "presence"
	msgLogout    messageType = "logout"
	msgError     messageType = "error"
)

// signalMessage is the provider's wire envelope. One flat struct for
// every direction; unused fields stay empty.
type signalMessage struct {
	Type        messageType       `json:"type"`
	Room        string            `json:"room,omitempty"`
	Token       string            `json:"token,omitempty"`
	Participant string            `json:"participant,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Stream      string            `json:"stream,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Streams     []core.StreamInfo `json:"streams,omitempty"`
	SDP         string            `json:"sdp,omitempty"`
	Candidate   *candidatePayload `json:"candidate,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type candidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
