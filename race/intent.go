package race

import (
	"encoding/json"
	"fmt"
)

// Intent is a request from the non-host participant for a state change.
// Intents carry no authority of their own; the host session is the only side
// that interprets them, and is free to ignore them.
type Intent interface {
	intentType() string
}

// ReadyForQuestion asks the host to draw the next question for the current
// player's location.
type ReadyForQuestion struct{}

// Answer reports the outcome of the current question. The host trusts the
// supplied boolean rather than recomputing correctness.
type Answer struct {
	IsCorrect bool `json:"isCorrect"`
}

// MoreInfo asks the host for an explanatory fact about an answered question.
type MoreInfo struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Reveal mirrors the answering player's selection (or timeout) to the peer.
type Reveal struct {
	State RevealState
}

// PlayAgain resets the session back to the lobby.
type PlayAgain struct{}

func (ReadyForQuestion) intentType() string { return "readyForQuestion" }
func (Answer) intentType() string           { return "answer" }
func (MoreInfo) intentType() string         { return "moreInfo" }
func (Reveal) intentType() string           { return "reveal" }
func (PlayAgain) intentType() string        { return "playAgain" }

// EncodeIntent packs an intent into the {type, payload} wire envelope.
func EncodeIntent(in Intent) (ActionEnvelope, error) {
	env := ActionEnvelope{Type: in.intentType()}

	var payload any
	switch v := in.(type) {
	case ReadyForQuestion, PlayAgain:
		return env, nil
	case Answer:
		payload = v
	case MoreInfo:
		payload = v
	case Reveal:
		payload = v.State
	default:
		return env, fmt.Errorf("unknown intent type %T", in)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Payload = data

	return env, nil
}

// DecodeIntent unpacks a wire envelope back into a typed intent. Unknown or
// malformed actions return an error and are ignored by the receiver.
func DecodeIntent(env ActionEnvelope) (Intent, error) {
	switch env.Type {
	case "readyForQuestion":
		return ReadyForQuestion{}, nil
	case "playAgain":
		return PlayAgain{}, nil
	case "answer":
		var a Answer
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &a); err != nil {
				return nil, err
			}
		}
		return a, nil
	case "moreInfo":
		var m MoreInfo
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, err
		}
		if m.Question == "" || m.Answer == "" {
			return nil, fmt.Errorf("moreInfo action missing question or answer")
		}
		return m, nil
	case "reveal":
		var s RevealState
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, err
		}
		if s.QuestionID == "" {
			return nil, fmt.Errorf("reveal action missing question id")
		}
		return Reveal{State: s}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", env.Type)
	}
}
