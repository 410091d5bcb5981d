package types

import "time"

// EventKind labels a gateway event read off the stream.
type EventKind string

const (
	EventNewMessage     EventKind = "new_message"
	EventMessageEdited  EventKind = "message_edited"
	EventSessionExpired EventKind = "session_expired"
)

// MessageEvent is one upstream event for an account: a new message, an edit
// of an earlier message, or a session expiry notice. Conversation and message
// ids are the platform's numeric identifiers.
type MessageEvent struct {
	Kind      EventKind `json:"kind"`
	Account   string    `json:"account"`
	Convo     int64     `json:"convo"`
	MsgID     int64     `json:"msgId"`
	Text      string    `json:"text"`
	Sender    int64     `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestCodeResponse is returned when the gateway starts a login: the code
// hash must accompany the code the user receives out of band.
type RequestCodeResponse struct {
	Account       string `json:"account"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	AlreadyAuthed bool   `json:"alreadyAuthed"`
}

// SubmitCodeRequest carries the login code back to the gateway.
type SubmitCodeRequest struct {
	Account       string `json:"account"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	Password      string `json:"password,omitempty"`
}

// SubmitCodeResponse reports the gateway's verdict on a submitted code.
type SubmitCodeResponse struct {
	Status   string `json:"status"`
	AuthBlob string `json:"authBlob,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	SubmitStatusOK             = "ok"
	SubmitStatusIncorrect      = "incorrect"
	SubmitStatusExpired        = "expired"
	SubmitStatusPasswordNeeded = "password_needed"
)

// SessionStatusResponse describes the gateway's view of one account session.
type SessionStatusResponse struct {
	Account    string `json:"account"`
	Authorized bool   `json:"authorized"`
	Username   string `json:"username,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
}

// RestoreSessionRequest re-establishes a session from a stored auth blob.
type RestoreSessionRequest struct {
	Account  string `json:"account"`
	AuthBlob string `json:"authBlob"`
}

// SendMessageRequest posts a message into a conversation on behalf of an
// account.
type SendMessageRequest struct {
	Account string `json:"account"`
	Convo   int64  `json:"convo"`
	Text    string `json:"text"`
}

// SendMessageResponse returns the platform id of the delivered message.
type SendMessageResponse struct {
	MsgID     int64     `json:"msgId"`
	Timestamp time.Time `json:"timestamp"`
}

// EditMessageRequest replaces the text of a previously sent message.
type EditMessageRequest struct {
	Account string `json:"account"`
	Convo   int64  `json:"convo"`
	MsgID   int64  `json:"msgId"`
	Text    string `json:"text"`
}

// Entity describes a conversation the account can see.
type Entity struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}
