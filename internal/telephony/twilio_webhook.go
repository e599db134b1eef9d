package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"receptionist/internal/calls"
	"receptionist/internal/dialogue"
)

// Twilio posts voice callbacks as application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Parsers map the subset of fields the dialogue consumes. No decisions are made here.

func ParseIncoming(r *http.Request) (dialogue.IncomingCall, error) {
	if err := r.ParseForm(); err != nil {
		return dialogue.IncomingCall{}, err
	}
	return dialogue.IncomingCall{
		CallID: callID(r),
		From:   normalizePhone(r.PostFormValue("From")),
		To:     normalizePhone(r.PostFormValue("To")),
	}, nil
}

func ParseGather(r *http.Request) (dialogue.Turn, error) {
	if err := r.ParseForm(); err != nil {
		return dialogue.Turn{}, err
	}
	return dialogue.Turn{
		CallID: callID(r),
		Speech: r.PostFormValue("SpeechResult"),
		Digits: r.PostFormValue("Digits"),
	}, nil
}

// ParseStatus leaves DurationSeconds nil when CallDuration is missing or not a number.
func ParseStatus(r *http.Request) (dialogue.StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return dialogue.StatusUpdate{}, err
	}
	u := dialogue.StatusUpdate{
		CallID:         callID(r),
		ProviderStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("CallDuration")); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			u.DurationSeconds = &d
		}
	}
	return u, nil
}

func callID(r *http.Request) calls.CallID {
	return calls.CallID(strings.TrimSpace(r.PostFormValue("CallSid")))
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}
