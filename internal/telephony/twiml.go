package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"receptionist/internal/dialogue"
)

const (
	DefaultVoice    = "Polly.Joanna"
	DefaultLanguage = "en-US"

	// NoInputNotice is spoken when a Gather times out without speech.
	NoInputNotice = "I didn't receive any input. Please try again."
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the receptionist emits are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	SpeechModel   string   `xml:"speechModel,attr"`
	Enhanced      bool     `xml:"enhanced,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Say           *twimlSay
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Renderer turns dialogue instructions into TwiML documents.
type Renderer struct {
	Voice    string
	Language string

	// GatherURL receives the next caller utterance.
	GatherURL string

	// TransferNumber is dialed for transfers. Empty means speak and hang up.
	TransferNumber string
}

func (r Renderer) say(text string) *twimlSay {
	voice, lang := r.Voice, r.Language
	if voice == "" {
		voice = DefaultVoice
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	return &twimlSay{Voice: voice, Language: lang, Text: text}
}

// Render maps a dialogue.Response to TwiML.
func (r Renderer) Render(resp dialogue.Response) (string, error) {
	var doc twimlResponse

	switch resp.Action {
	case dialogue.ActionGather:
		if strings.TrimSpace(r.GatherURL) == "" {
			return "", errors.New("telephony: gather url required for gather action")
		}
		doc.Verbs = append(doc.Verbs,
			twimlGather{
				Input:         "speech",
				SpeechTimeout: "auto",
				SpeechModel:   "phone_call",
				Enhanced:      true,
				Action:        r.GatherURL,
				Method:        "POST",
				Say:           r.say(resp.Say),
			},
			r.say(NoInputNotice),
			twimlRedirect{Method: "POST", URL: r.GatherURL},
		)
	case dialogue.ActionTransfer:
		if resp.Say != "" {
			doc.Verbs = append(doc.Verbs, r.say(resp.Say))
		}
		if n := strings.TrimSpace(r.TransferNumber); n != "" {
			doc.Verbs = append(doc.Verbs, twimlDial{Number: n})
		} else {
			doc.Verbs = append(doc.Verbs, twimlHangup{})
		}
	case dialogue.ActionHangup:
		if resp.Say != "" {
			doc.Verbs = append(doc.Verbs, r.say(resp.Say))
		}
		doc.Verbs = append(doc.Verbs, twimlHangup{})
	default:
		return "", errors.New("telephony: unknown dialogue action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
