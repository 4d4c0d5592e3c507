package race

import (
	"reflect"
	"testing"
)

func TestIntentEnvelopeRoundTrip(t *testing.T) {
	intents := []Intent{
		ReadyForQuestion{},
		Answer{IsCorrect: true},
		MoreInfo{Question: "What is the capital of France?", Answer: "Paris"},
		Reveal{State: RevealState{QuestionID: "q1", SelectedAnswer: "Paris", ShowResult: true}},
		PlayAgain{},
	}

	for _, in := range intents {
		env, err := EncodeIntent(in)
		if err != nil {
			t.Fatalf("EncodeIntent(%T) returned error: %v", in, err)
		}

		out, err := DecodeIntent(env)
		if err != nil {
			t.Fatalf("DecodeIntent(%q) returned error: %v", env.Type, err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip changed intent: %#v != %#v", in, out)
		}
	}
}

func TestDecodeIntentRejectsUnknownAction(t *testing.T) {
	if _, err := DecodeIntent(ActionEnvelope{Type: "formatDisk"}); err == nil {
		t.Error("expected error for unknown action type")
	}
}

func TestDecodeIntentRejectsIncompleteMoreInfo(t *testing.T) {
	if _, err := DecodeIntent(ActionEnvelope{Type: "moreInfo", Payload: []byte(`{"question":"q"}`)}); err == nil {
		t.Error("expected error for moreInfo without answer")
	}
}
