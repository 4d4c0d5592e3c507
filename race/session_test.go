package race

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeProvider struct {
	mu      sync.Mutex
	batches map[string][]Question
	fact    string
	factErr error
	calls   []string
}

func (f *fakeProvider) FetchQuestions(_ context.Context, location string, _ int) ([]Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, location)
	return f.batches[location], nil
}

func (f *fakeProvider) FetchFact(_ context.Context, _, _ string) (string, error) {
	return f.fact, f.factErr
}

func (f *fakeProvider) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func questionsFor(location string) []Question {
	qs := make([]Question, 3)
	for i := range qs {
		qs[i] = Question{
			Question:      fmt.Sprintf("%s question %d", location, i+1),
			Options:       []string{"Alpha", "Bravo", "Charlie", "Delta"},
			CorrectAnswer: "Charlie",
		}
	}
	return qs
}

func providerForRing() *fakeProvider {
	batches := make(map[string][]Question, len(Locations))
	for _, loc := range Locations {
		batches[loc.Name] = questionsFor(loc.Name)
	}
	return &fakeProvider{batches: batches, fact: "An interesting fact."}
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []string
}

func (n *noticeRecorder) Notice(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, message)
}

func (n *noticeRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type intentRecorder struct {
	mu      sync.Mutex
	intents []Intent
}

func (r *intentRecorder) SendAction(in Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return nil
}

func (r *intentRecorder) all() []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Intent(nil), r.intents...)
}

func startedSession(t *testing.T, provider Provider, publish PublishFunc) *Session {
	t.Helper()

	s := NewSession(SessionConfig{
		Provider: provider,
		Publish:  publish,
		Host:     true,
	})
	err := s.Start(context.Background(), "New York, USA", "Mexico City, Mexico", "Ada", "Bea", "male1", "female1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return s
}

func TestStartBuildsPathAndPrefetches(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)

	snap := s.Snapshot()
	if snap.Phase != PhasePlaying {
		t.Errorf("phase = %s, want playing", snap.Phase)
	}
	if len(snap.RacePath) != 2 {
		t.Errorf("path length = %d, want 2", len(snap.RacePath))
	}
	if snap.IsLoading {
		t.Error("loading flag still set after start")
	}
	if snap.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", snap.CurrentPlayer)
	}
	if provider.fetchCount() == 0 {
		t.Error("no prefetch happened during start")
	}
}

func TestReadyForQuestionShufflesAndNeverRepeats(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)
	ctx := context.Background()

	s.ReadyForQuestion(ctx)
	first := s.Snapshot().CurrentQuestion
	if first == nil {
		t.Fatal("no question presented")
	}

	options := map[string]bool{}
	for _, opt := range first.Options {
		options[opt] = true
	}
	for _, want := range []string{"Alpha", "Bravo", "Charlie", "Delta"} {
		if !options[want] {
			t.Errorf("shuffle lost option %q", want)
		}
	}

	// A second draw for the same stop must produce a different question.
	s.ReadyForQuestion(ctx)
	second := s.Snapshot().CurrentQuestion
	if second == nil {
		t.Fatal("no second question presented")
	}
	if second.Question == first.Question {
		t.Errorf("question %q repeated", first.Question)
	}
}

func TestAnswerAdvancesAndSwitchesTurn(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)
	ctx := context.Background()

	s.ReadyForQuestion(ctx)
	s.Answer(ctx, true)

	snap := s.Snapshot()
	if snap.Player1Position != 1 {
		t.Errorf("player 1 position = %d, want 1", snap.Player1Position)
	}
	if snap.CurrentPlayer != 2 {
		t.Errorf("current player = %d, want 2", snap.CurrentPlayer)
	}
	if snap.CurrentQuestion != nil {
		t.Error("question not cleared after answer")
	}

	s.ReadyForQuestion(ctx)
	s.Answer(ctx, false)

	snap = s.Snapshot()
	if snap.Player2Position != 0 {
		t.Errorf("player 2 advanced on a wrong answer to %d", snap.Player2Position)
	}
	if snap.CurrentPlayer != 1 {
		t.Errorf("turn did not pass back to player 1")
	}
	if snap.Winner != "" {
		t.Errorf("unexpected winner %q", snap.Winner)
	}
}

func TestCorrectAnswerAtFinalStopWins(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)
	ctx := context.Background()

	// Walk player 1 to the destination, then answer correctly there.
	s.ReadyForQuestion(ctx)
	s.Answer(ctx, true) // player 1 → stop 1 (destination)
	s.ReadyForQuestion(ctx)
	s.Answer(ctx, false) // player 2 stays
	s.ReadyForQuestion(ctx)
	s.Answer(ctx, true) // player 1 answers at the destination

	snap := s.Snapshot()
	if snap.Winner != "Ada" {
		t.Errorf("winner = %q, want Ada", snap.Winner)
	}
	if snap.Phase != PhaseFinished {
		t.Errorf("phase = %s, want finished", snap.Phase)
	}
	if snap.CurrentPlayer != 1 {
		t.Error("turn switched after the race finished")
	}
}

func TestEmptyFetchForfeitsTurn(t *testing.T) {
	provider := &fakeProvider{batches: map[string][]Question{}}
	notices := &noticeRecorder{}

	s := NewSession(SessionConfig{
		Provider:  provider,
		Presenter: notices,
		Host:      true,
	})
	err := s.Start(context.Background(), "New York, USA", "Mexico City, Mexico", "Ada", "Bea", "male1", "female1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	s.ReadyForQuestion(context.Background())

	snap := s.Snapshot()
	if snap.CurrentQuestion != nil {
		t.Error("question presented despite empty provider")
	}
	if snap.CurrentPlayer != 2 {
		t.Errorf("turn not forfeited: current player = %d", snap.CurrentPlayer)
	}
	if snap.Player1Position != 0 {
		t.Errorf("player 1 advanced on a forfeit to %d", snap.Player1Position)
	}
	if snap.Winner != "" {
		t.Errorf("unexpected winner %q", snap.Winner)
	}
	if notices.count() != 1 {
		t.Errorf("expected one forfeit notice, got %d", notices.count())
	}
}

func TestMergeDeduplicatesByQuestionText(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)

	// The provider hands back the same batch every time; merging it again
	// must not grow the queue.
	s.mu.Lock()
	before := len(s.queue["New York, USA"])
	s.mergeQuestionsLocked("New York, USA", questionsFor("New York, USA"))
	after := len(s.queue["New York, USA"])
	s.mu.Unlock()

	if before == 0 {
		t.Fatal("no questions queued for the starting stop")
	}
	if after != before {
		t.Errorf("queue grew from %d to %d on a duplicate merge", before, after)
	}
}

func TestStaleGenerationPrefetchDiscarded(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)

	s.mu.Lock()
	stale := s.generation - 1
	s.mu.Unlock()

	before := provider.fetchCount()
	s.prefetch(context.Background(), stale)
	if provider.fetchCount() != before {
		t.Error("prefetch for a dead generation still hit the provider")
	}
}

func TestMoreInfoFallbackOnProviderFailure(t *testing.T) {
	provider := providerForRing()
	provider.factErr = fmt.Errorf("model unavailable")
	s := startedSession(t, provider, nil)

	s.RequestMoreInfo(context.Background(), "Some question", "Some answer")

	snap := s.Snapshot()
	if snap.IsMoreInfoLoading {
		t.Error("loading flag still set after fact fetch")
	}
	if snap.MoreInfo != "Sorry, I couldn't fetch more information at the moment." {
		t.Errorf("unexpected fallback fact %q", snap.MoreInfo)
	}
}

func TestStaleRevealIsIgnored(t *testing.T) {
	provider := providerForRing()
	s := startedSession(t, provider, nil)
	ctx := context.Background()

	s.ReadyForQuestion(ctx)
	current := s.Snapshot().CurrentQuestion

	s.SetReveal(RevealState{QuestionID: "a question from last round", SelectedAnswer: "Alpha", ShowResult: true})
	if s.Snapshot().QuestionReveal != nil {
		t.Error("stale reveal was recorded")
	}

	s.SetReveal(RevealState{QuestionID: current.Question, SelectedAnswer: "Alpha", ShowResult: true})
	reveal := s.Snapshot().QuestionReveal
	if reveal == nil || reveal.SelectedAnswer != "Alpha" {
		t.Error("matching reveal was not recorded")
	}
}

func TestGuestForwardsIntentsWithoutMutating(t *testing.T) {
	forwarder := &intentRecorder{}
	s := NewSession(SessionConfig{
		Forward: forwarder,
		Online:  true,
	})
	ctx := context.Background()

	before := s.Snapshot()

	s.ReadyForQuestion(ctx)
	s.Answer(ctx, true)
	s.RequestMoreInfo(ctx, "q", "a")
	s.Reset()

	intents := forwarder.all()
	want := []Intent{ReadyForQuestion{}, Answer{IsCorrect: true}, MoreInfo{Question: "q", Answer: "a"}, PlayAgain{}}
	if !reflect.DeepEqual(intents, want) {
		t.Errorf("forwarded intents = %#v, want %#v", intents, want)
	}

	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Error("guest mutated local state instead of forwarding")
	}
}

func TestApplyReplacesStateWholesale(t *testing.T) {
	s := NewSession(SessionConfig{Online: true})

	path, err := BuildPath("Cairo, Egypt", "Tokyo, Japan")
	if err != nil {
		t.Fatalf("BuildPath returned error: %v", err)
	}
	incoming := Snapshot{
		Phase:           PhasePlaying,
		RacePath:        path,
		Player1Position: 3,
		Player2Position: 1,
		Player1Name:     "Ada",
		Player2Name:     "Bea",
		CurrentPlayer:   2,
		CurrentQuestion: &Question{
			Question:      "Which river runs through Cairo?",
			Options:       []string{"Nile", "Danube", "Amazon", "Volga"},
			CorrectAnswer: "Nile",
		},
	}

	s.Apply(incoming)

	if !reflect.DeepEqual(s.Snapshot(), incoming) {
		t.Error("applied snapshot differs from the broadcast one")
	}
}

func TestHandleActionDrivesHostSession(t *testing.T) {
	provider := providerForRing()
	var published []Snapshot
	s := startedSession(t, provider, func(snap Snapshot) {
		published = append(published, snap)
	})
	ctx := context.Background()

	env, err := EncodeIntent(ReadyForQuestion{})
	if err != nil {
		t.Fatalf("EncodeIntent returned error: %v", err)
	}
	s.HandleAction(ctx, env)

	snap := s.Snapshot()
	if snap.CurrentQuestion == nil {
		t.Fatal("relayed readyForQuestion did not present a question")
	}

	// Mutate-then-publish: the last published snapshot is the current state.
	if len(published) == 0 {
		t.Fatal("host never published")
	}
	if !reflect.DeepEqual(published[len(published)-1], snap) {
		t.Error("last published snapshot is stale")
	}
}

func TestPlayAgainReturnsToLobby(t *testing.T) {
	provider := providerForRing()
	s := NewSession(SessionConfig{
		Provider: provider,
		Host:     true,
		Online:   true,
	})
	ctx := context.Background()
	err := s.Start(ctx, "New York, USA", "Mexico City, Mexico", "Ada", "Bea", "explorer", "pilot")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	s.HandleAction(ctx, ActionEnvelope{Type: "playAgain"})

	snap := s.Snapshot()
	if snap.Phase != PhaseOnlineLobby {
		t.Errorf("phase = %s, want onlineLobby", snap.Phase)
	}
	if len(snap.RacePath) != 0 || snap.Player1Position != 0 || snap.Winner != "" {
		t.Error("race state survived a reset")
	}
	if snap.Player1Name != "Ada" || snap.Player2Name != "Bea" {
		t.Error("player identities lost across a reset")
	}
}

func TestCountdownForcesTimedOutAnswer(t *testing.T) {
	provider := providerForRing()
	clock := clockwork.NewFakeClock()
	s := NewSession(SessionConfig{
		Provider: provider,
		Host:     true,
		Clock:    clock,
	})
	ctx := context.Background()
	err := s.Start(ctx, "New York, USA", "Mexico City, Mexico", "Ada", "Bea", "male1", "female1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	s.ReadyForQuestion(ctx)
	if s.Snapshot().CurrentQuestion == nil {
		t.Fatal("no question presented")
	}

	s.StartCountdown(ctx)
	clock.BlockUntil(1)
	clock.Advance(DefaultCountdown)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.CurrentQuestion == nil && snap.CurrentPlayer == 2 {
			if snap.Player1Position != 0 {
				t.Errorf("player advanced on a timeout to %d", snap.Player1Position)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("countdown expiry never forfeited the turn")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCountdownIgnoredAfterManualReveal(t *testing.T) {
	provider := providerForRing()
	clock := clockwork.NewFakeClock()
	s := NewSession(SessionConfig{
		Provider: provider,
		Host:     true,
		Clock:    clock,
	})
	ctx := context.Background()
	err := s.Start(ctx, "New York, USA", "Mexico City, Mexico", "Ada", "Bea", "male1", "female1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	s.ReadyForQuestion(ctx)
	question := s.Snapshot().CurrentQuestion
	s.StartCountdown(ctx)
	clock.BlockUntil(1)

	s.SetReveal(RevealState{QuestionID: question.Question, SelectedAnswer: "Charlie", ShowResult: true})
	clock.Advance(DefaultCountdown)

	// Give the countdown goroutine a moment, then confirm it changed nothing.
	time.Sleep(50 * time.Millisecond)
	snap := s.Snapshot()
	if snap.CurrentQuestion == nil || snap.CurrentQuestion.Question != question.Question {
		t.Error("expired countdown overrode a manual reveal")
	}
	if snap.QuestionReveal == nil || snap.QuestionReveal.TimedOut {
		t.Error("manual reveal was replaced by a timeout reveal")
	}
}
