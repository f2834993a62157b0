package core

import (
	"encoding/gob"
	"encoding/json"

	"github.com/gorilla/sessions"
)

// Notice levels mirror the toast styles of the admin UI.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
	NoticeInfo    = "info"
)

const (
	msgLoginSuccess   = "Login successful!"
	msgLoginFailed    = "Login failed. Please check your credentials."
	msgAccessDenied   = "Access denied. Admin or Manager role required."
	noticeFlashBucket = "notices"
)

func init() {
	// Flash queues are stored as []interface{} inside the gob-encoded cookie.
	gob.Register([]interface{}{})
}

// Notice is a user-visible notification produced by a session transition.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notifier receives notices; the HTTP layer queues them as session flashes.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// flashNotifier queues notices as gorilla session flashes.
type flashNotifier struct {
	session *sessions.Session
}

func (f flashNotifier) Notify(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	f.session.AddFlash(string(data), noticeFlashBucket)
}

// drainNotices pops every queued notice from the session.
func drainNotices(session *sessions.Session) []Notice {
	out := []Notice{}
	if session == nil {
		return out
	}
	for _, raw := range session.Flashes(noticeFlashBucket) {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var n Notice
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
