// Package race implements the Race Around The World game session and its
// room protocol.
//
// Two players race along a fixed ring of world locations, answering a trivia
// question at each stop to advance. In online mode one peer (the host) owns
// the simulation outright: the guest forwards every intent to the host and
// mirrors whatever snapshot the host broadcasts. The session is therefore
// single-writer by construction rather than by locking.
package race

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// Look ahead this many stops per player when prefetching questions.
	preloadAhead = 2
	// Refill a location's queue once fewer unused questions remain.
	minQuestionBuffer = 2
	// Questions requested per provider call.
	questionBatch = 3

	// DefaultCountdown is how long a player gets to answer a question.
	DefaultCountdown = 15 * time.Second
)

const (
	DefaultHostAvatar  = "explorer"
	DefaultGuestAvatar = "pilot"
)

// Presenter receives user-facing notices from the session. Rendering proper
// is out of scope here; the terminal presenter and test fakes implement it.
type Presenter interface {
	Notice(message string)
}

// Forwarder carries a guest intent to the host. *RoomClient implements it.
type Forwarder interface {
	SendAction(Intent) error
}

// PublishFunc receives the host's snapshot after every mutation.
type PublishFunc func(Snapshot)

// SessionConfig configures a Session. Provider is required for host/local
// sessions; Forward is required for guest sessions.
type SessionConfig struct {
	Provider  Provider
	Presenter Presenter
	Publish   PublishFunc
	Forward   Forwarder
	Host      bool
	Online    bool
	Clock     clockwork.Clock
	Countdown time.Duration
}

// Session is the client-side game state machine. It runs identically in code
// on both roles but behaviorally asymmetric on the host flag: only the host
// mutates state and publishes snapshots, while the guest forwards intents and
// applies broadcasts wholesale.
type Session struct {
	provider  Provider
	presenter Presenter
	publish   PublishFunc
	forward   Forwarder
	isHost    bool
	online    bool
	clock     clockwork.Clock
	countdown time.Duration

	mu    sync.Mutex
	snap  Snapshot
	queue map[string][]Question
	used  map[string]bool
	// generation invalidates in-flight fetches and countdowns across resets
	generation int
}

type noopPresenter struct{}

func (noopPresenter) Notice(string) {}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.Presenter == nil {
		cfg.Presenter = noopPresenter{}
	}

	phase := PhaseSetup
	if cfg.Online {
		phase = PhaseOnlineLobby
	}

	return &Session{
		provider:  cfg.Provider,
		presenter: cfg.Presenter,
		publish:   cfg.Publish,
		forward:   cfg.Forward,
		isHost:    cfg.Host,
		online:    cfg.Online,
		clock:     cfg.Clock,
		countdown: cfg.Countdown,
		snap: Snapshot{
			Phase:         phase,
			Player1Name:   "Player 1",
			Player2Name:   "Player 2",
			CurrentPlayer: 1,
		},
		queue: make(map[string][]Question),
		used:  make(map[string]bool),
	}
}

// remote reports whether this session must route intents through the host
// instead of executing them.
func (s *Session) remote() bool {
	return s.online && !s.isHost
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

func (s *Session) cloneLocked() Snapshot {
	out := s.snap
	out.RacePath = append([]Location(nil), s.snap.RacePath...)
	if s.snap.CurrentQuestion != nil {
		q := *s.snap.CurrentQuestion
		q.Options = append([]string(nil), q.Options...)
		out.CurrentQuestion = &q
	}
	if s.snap.QuestionReveal != nil {
		r := *s.snap.QuestionReveal
		out.QuestionReveal = &r
	}
	return out
}

// publishLocked hands the authoritative snapshot to the publish callback.
// Every host-side mutation ends here, so the mutate-then-publish ordering is
// an explicit contract rather than an implicit effect.
func (s *Session) publishLocked() {
	if s.publish == nil || s.remote() {
		return
	}
	s.publish(s.cloneLocked())
}

// Start begins a race from start to end. Host and local sessions only; the
// guest receives the resulting state via snapshot sync.
func (s *Session) Start(ctx context.Context, start, end, p1Name, p2Name, p1Avatar, p2Avatar string) error {
	if s.remote() {
		return fmt.Errorf("only the host can start the race")
	}

	path, err := BuildPath(start, end)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.queue = make(map[string][]Question)
	s.used = make(map[string]bool)
	s.snap = Snapshot{
		Phase:           s.snap.Phase,
		RacePath:        path,
		Player1Name:     p1Name,
		Player2Name:     p2Name,
		Player1AvatarID: p1Avatar,
		Player2AvatarID: p2Avatar,
		CurrentPlayer:   1,
		IsLoading:       true,
	}
	s.publishLocked()
	s.mu.Unlock()

	// Warm the question queues before play begins.
	s.prefetch(ctx, gen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil
	}
	s.snap.Phase = PhasePlaying
	s.snap.IsLoading = false
	s.publishLocked()

	return nil
}

// ReadyForQuestion draws the next question for the current player's location.
// If no unused question is queued, one batch is fetched synchronously; if that
// also yields nothing, the turn is forfeited as an incorrect answer.
func (s *Session) ReadyForQuestion(ctx context.Context) {
	if s.remote() {
		_ = s.forward.SendAction(ReadyForQuestion{})
		return
	}

	s.mu.Lock()
	if len(s.snap.RacePath) == 0 {
		s.mu.Unlock()
		return
	}
	location := s.snap.RacePath[s.currentPositionLocked()].Name

	q, ok := s.unusedQuestionLocked(location)
	if !ok {
		s.snap.IsLoading = true
		s.publishLocked()
		gen := s.generation
		s.mu.Unlock()

		fresh, err := s.provider.FetchQuestions(ctx, location, questionBatch)

		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.snap.IsLoading = false
		if err == nil {
			s.mergeQuestionsLocked(location, fresh)
		}

		q, ok = s.unusedQuestionLocked(location)
		if !ok {
			s.publishLocked()
			s.mu.Unlock()
			s.presenter.Notice(fmt.Sprintf("Failed to get a question for %s. Skipping turn.", location))
			s.Answer(ctx, false)
			return
		}
	}

	s.used[q.Question] = true
	shuffled := q
	shuffled.Options = shuffleOptions(q.Options)
	s.snap.CurrentQuestion = &shuffled
	s.snap.QuestionReveal = nil
	s.snap.MoreInfo = ""
	s.publishLocked()
	s.mu.Unlock()
}

// Answer resolves the current question. A correct answer at the final stop
// wins the race; a correct answer elsewhere advances one stop; an incorrect
// answer holds position. Without a winner the turn passes to the other player
// and a background prefetch tops up the question queues.
func (s *Session) Answer(ctx context.Context, isCorrect bool) {
	if s.remote() {
		_ = s.forward.SendAction(Answer{IsCorrect: isCorrect})
		return
	}

	s.mu.Lock()
	s.snap.MoreInfo = ""
	s.snap.IsMoreInfoLoading = false
	s.snap.CurrentQuestion = nil
	s.snap.QuestionReveal = nil

	destination := len(s.snap.RacePath) - 1
	if destination < 0 {
		destination = 0
	}
	position := s.currentPositionLocked()
	atDestination := len(s.snap.RacePath) > 0 && position == destination

	if isCorrect {
		switch {
		case atDestination:
			if s.snap.CurrentPlayer == 1 {
				s.snap.Winner = s.snap.Player1Name
			} else {
				s.snap.Winner = s.snap.Player2Name
			}
			s.snap.Phase = PhaseFinished
		case s.snap.CurrentPlayer == 1:
			s.snap.Player1Position = min(s.snap.Player1Position+1, destination)
		default:
			s.snap.Player2Position = min(s.snap.Player2Position+1, destination)
		}
	}

	if s.snap.Winner == "" {
		s.snap.CurrentPlayer = 3 - s.snap.CurrentPlayer
		gen := s.generation
		go s.prefetch(ctx, gen)
	}
	s.publishLocked()
	s.mu.Unlock()
}

// RequestMoreInfo fetches an explanatory fact for an answered question. The
// fact is flavor content, shared through the snapshot so both players see it.
func (s *Session) RequestMoreInfo(ctx context.Context, question, answer string) {
	if s.remote() {
		_ = s.forward.SendAction(MoreInfo{Question: question, Answer: answer})
		return
	}

	s.mu.Lock()
	s.snap.IsMoreInfoLoading = true
	s.snap.MoreInfo = ""
	gen := s.generation
	s.publishLocked()
	s.mu.Unlock()

	info, err := s.provider.FetchFact(ctx, question, answer)
	if err != nil {
		info = "Sorry, I couldn't fetch more information at the moment."
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.snap.MoreInfo = info
	s.snap.IsMoreInfoLoading = false
	s.publishLocked()
}

// SetReveal records the answering player's selection (or timeout) for the
// current question. Reveals keyed to a question that is no longer current are
// stale and ignored.
func (s *Session) SetReveal(state RevealState) {
	s.mu.Lock()
	current := s.snap.CurrentQuestion
	if current == nil || state.QuestionID != current.Question {
		s.mu.Unlock()
		return
	}
	s.snap.QuestionReveal = &state
	s.publishLocked()
	s.mu.Unlock()

	if s.remote() {
		_ = s.forward.SendAction(Reveal{State: state})
	}
}

// Reset clears the race and returns to the lobby (online) or setup (local).
func (s *Session) Reset() {
	if s.remote() {
		_ = s.forward.SendAction(PlayAgain{})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	if s.online {
		s.snap.Phase = PhaseOnlineLobby
	} else {
		s.snap.Phase = PhaseSetup
	}
	s.publishLocked()
}

func (s *Session) resetLocked() {
	s.generation++
	s.queue = make(map[string][]Question)
	s.used = make(map[string]bool)
	s.snap = Snapshot{
		Player1Name:     s.snap.Player1Name,
		Player2Name:     s.snap.Player2Name,
		Player1AvatarID: s.snap.Player1AvatarID,
		Player2AvatarID: s.snap.Player2AvatarID,
		CurrentPlayer:   1,
	}
}

// Apply replaces the guest's entire state with a host broadcast. The swap is
// a single assignment under the lock, so observers never see a blend of two
// snapshots.
func (s *Session) Apply(snap Snapshot) {
	if s.isHost {
		return
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// SetPlayers updates the lobby-derived identities from a membership list.
func (s *Session) SetPlayers(players []RoomPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guestPresent := false
	for _, p := range players {
		switch p.Role {
		case RoleHost:
			s.snap.Player1Name = p.Name
			s.snap.Player1AvatarID = p.AvatarID
			if s.snap.Player1AvatarID == "" {
				s.snap.Player1AvatarID = DefaultHostAvatar
			}
		case RoleGuest:
			guestPresent = true
			s.snap.Player2Name = p.Name
			s.snap.Player2AvatarID = p.AvatarID
			if s.snap.Player2AvatarID == "" {
				s.snap.Player2AvatarID = DefaultGuestAvatar
			}
		}
	}
	if !guestPresent {
		s.snap.Player2Name = "Awaiting Player"
		s.snap.Player2AvatarID = DefaultGuestAvatar
	}
	s.publishLocked()
}

// RoomClosed returns the session to the lobby after the host tore the room
// down. In-progress race state is discarded.
func (s *Session) RoomClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.snap.Phase = PhaseOnlineLobby
}

// HandleAction dispatches a relayed guest intent on the host.
func (s *Session) HandleAction(ctx context.Context, env ActionEnvelope) {
	in, err := DecodeIntent(env)
	if err != nil {
		return
	}

	switch v := in.(type) {
	case ReadyForQuestion:
		s.ReadyForQuestion(ctx)
	case Answer:
		s.Answer(ctx, v.IsCorrect)
	case MoreInfo:
		s.RequestMoreInfo(ctx, v.Question, v.Answer)
	case Reveal:
		s.SetReveal(v.State)
	case PlayAgain:
		s.Reset()
	}
}

// StartCountdown arms the turn timer for the current question. If it expires
// before any reveal is recorded, the answer is forced to "timed out,
// incorrect", exactly as if the player had picked a wrong option.
func (s *Session) StartCountdown(ctx context.Context) {
	s.mu.Lock()
	current := s.snap.CurrentQuestion
	if current == nil {
		s.mu.Unlock()
		return
	}
	questionID := current.Question
	gen := s.generation
	d := s.countdown
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(d):
		}

		s.mu.Lock()
		expired := gen == s.generation &&
			s.snap.CurrentQuestion != nil &&
			s.snap.CurrentQuestion.Question == questionID &&
			s.snap.QuestionReveal == nil
		s.mu.Unlock()
		if !expired {
			return
		}

		s.SetReveal(RevealState{QuestionID: questionID, ShowResult: true, TimedOut: true})
		s.Answer(ctx, false)
	}()
}

func (s *Session) currentPositionLocked() int {
	if s.snap.CurrentPlayer == 1 {
		return s.snap.Player1Position
	}
	return s.snap.Player2Position
}

// unusedQuestionLocked returns the first queued question for location whose
// text has not been used in this race.
func (s *Session) unusedQuestionLocked(location string) (Question, bool) {
	for _, q := range s.queue[location] {
		if !s.used[q.Question] {
			return q, true
		}
	}
	return Question{}, false
}

// mergeQuestionsLocked appends fresh questions, deduplicating by question
// text against what is already queued.
func (s *Session) mergeQuestionsLocked(location string, fresh []Question) {
	existing := s.queue[location]
	for _, q := range fresh {
		duplicate := false
		for _, e := range existing {
			if e.Question == q.Question {
				duplicate = true
				break
			}
		}
		if !duplicate {
			existing = append(existing, q)
		}
	}
	s.queue[location] = existing
}

// locationsNeedingFetchLocked collects the next preloadAhead stops for both
// players and keeps the ones whose unused-question buffer has run low.
func (s *Session) locationsNeedingFetchLocked() []string {
	check := make(map[string]bool)
	for i := 0; i < preloadAhead; i++ {
		if p := s.snap.Player1Position + i; p < len(s.snap.RacePath) {
			check[s.snap.RacePath[p].Name] = true
		}
		if p := s.snap.Player2Position + i; p < len(s.snap.RacePath) {
			check[s.snap.RacePath[p].Name] = true
		}
	}

	var need []string
	for name := range check {
		unused := 0
		for _, q := range s.queue[name] {
			if !s.used[q.Question] {
				unused++
			}
		}
		if unused < minQuestionBuffer {
			need = append(need, name)
		}
	}
	sort.Strings(need)
	return need
}

// prefetch tops up the per-location queues, fetching every depleted location
// concurrently and merging results back by location key. Results that arrive
// after a reset belong to a dead generation and are dropped.
func (s *Session) prefetch(ctx context.Context, gen int) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	need := s.locationsNeedingFetchLocked()
	s.mu.Unlock()

	if len(need) == 0 {
		return
	}

	results := make([][]Question, len(need))
	var wg sync.WaitGroup
	for i, name := range need {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			qs, err := s.provider.FetchQuestions(ctx, name, questionBatch)
			if err != nil {
				return
			}
			results[i] = qs
		}(i, name)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	for i, name := range need {
		s.mergeQuestionsLocked(name, results[i])
	}
}

// shuffleOptions returns a fresh Fisher-Yates permutation of the options.
func shuffleOptions(options []string) []string {
	out := append([]string(nil), options...)
	for i := len(out) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
