package race

// Location is one stop on the fixed route around the world.
type Location struct {
	Name        string     `json:"name"`
	Coordinates [2]float64 `json:"coordinates"` // [longitude, latitude]
}

// Question is a multiple-choice trivia question. CorrectAnswer is always one
// of Options; correctness is compared by answer text, never by position, so
// reshuffling the options is harmless.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// RevealState records what the answering player picked for one specific
// question, or that the countdown expired with no selection, so the peer's
// mirrored view can show the same result without running its own timer.
type RevealState struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer string `json:"selectedAnswer,omitempty"`
	ShowResult     bool   `json:"showResult"`
	TimedOut       bool   `json:"timedOut"`
}

// Phase is the session's lifecycle state.
type Phase string

const (
	PhaseLanding     Phase = "landing"
	PhaseSetup       Phase = "setup"
	PhaseOnlineLobby Phase = "onlineLobby"
	PhasePlaying     Phase = "playing"
	PhaseFinished    Phase = "finished"
)

// Snapshot is the complete synchronized game state. The host broadcasts a
// fresh one after every mutation and the guest replaces its own state with it
// wholesale; snapshots are never diffed or merged.
type Snapshot struct {
	Phase             Phase        `json:"gameState"`
	RacePath          []Location   `json:"racePath"`
	Player1Position   int          `json:"player1Position"`
	Player2Position   int          `json:"player2Position"`
	Player1Name       string       `json:"player1Name"`
	Player2Name       string       `json:"player2Name"`
	Player1AvatarID   string       `json:"player1AvatarId"`
	Player2AvatarID   string       `json:"player2AvatarId"`
	CurrentPlayer     int          `json:"currentPlayer"`
	Winner            string       `json:"winner,omitempty"`
	CurrentQuestion   *Question    `json:"currentQuestion"`
	QuestionReveal    *RevealState `json:"questionReveal"`
	MoreInfo          string       `json:"moreInfo,omitempty"`
	IsMoreInfoLoading bool         `json:"isMoreInfoLoading"`
	IsLoading         bool         `json:"isLoading"`
}
