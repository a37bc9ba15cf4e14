// Package protocol defines the client-facing message types of spec.md §6:
// the self-describing {type, ...} objects exchanged over the session
// socket.
package protocol

// Inbound message type tags.
const (
	TypeHeartbeat   = "presence.heartbeat"
	TypeAway        = "presence.away"
	TypeActive      = "presence.active"
	TypeSubscribe   = "presence.subscribe"
	TypeUnsubscribe = "presence.unsubscribe"
)

// Outbound message type tags.
const (
	TypeStatus          = "presence.status"
	TypeSubscribeAck    = "presence.subscribe.ack"
	TypeSubscribeDenied = "presence.subscribe.denied"
	TypeError           = "presence.error"
)

// Denial reasons for presence.subscribe.denied.
const (
	ReasonNotMutual            = "not_mutual"
	ReasonTooManySubscriptions = "too_many_subscriptions"
)

// Inbound is the fully-decoded shape of every inbound message kind this
// service understands. Only the fields relevant to Type are populated.
type Inbound struct {
	Type         string `json:"type"`
	TargetUserID int64  `json:"target_user_id,omitempty"`
}

// StatusSnapshot is the {status, ts} pair embedded in a subscribe ack.
type StatusSnapshot struct {
	Status string `json:"status"`
	Ts     int64  `json:"ts"`
}

// OutboundStatus is a presence.status message: a transition of user_id.
type OutboundStatus struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
	Ts     int64  `json:"ts"`
}

func NewOutboundStatus(userID int64, status string, ts int64) OutboundStatus {
	return OutboundStatus{Type: TypeStatus, UserID: userID, Status: status, Ts: ts}
}

// OutboundSubscribeAck is a presence.subscribe.ack message.
type OutboundSubscribeAck struct {
	Type         string         `json:"type"`
	TargetUserID int64          `json:"target_user_id"`
	Current      StatusSnapshot `json:"current"`
}

func NewOutboundSubscribeAck(targetUserID int64, status string, ts int64) OutboundSubscribeAck {
	return OutboundSubscribeAck{
		Type:         TypeSubscribeAck,
		TargetUserID: targetUserID,
		Current:      StatusSnapshot{Status: status, Ts: ts},
	}
}

// OutboundSubscribeDenied is a presence.subscribe.denied message.
type OutboundSubscribeDenied struct {
	Type         string `json:"type"`
	TargetUserID int64  `json:"target_user_id"`
	Reason       string `json:"reason"`
}

func NewOutboundSubscribeDenied(targetUserID int64, reason string) OutboundSubscribeDenied {
	return OutboundSubscribeDenied{Type: TypeSubscribeDenied, TargetUserID: targetUserID, Reason: reason}
}

// OutboundError is a presence.error protocol-violation reply.
type OutboundError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewOutboundError(reason string) OutboundError {
	return OutboundError{Type: TypeError, Reason: reason}
}
