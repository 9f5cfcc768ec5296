package domain

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is stamped on every server event.
const ProtocolVersion = 2

// Role is the authority a participant holds inside a room.
type Role string

const (
	RoleOwner  Role = "owner"
	RolePlayer Role = "player"
)

// Phase is the current stage of a room's quiz session.
type Phase string

const (
	PhaseIdle         Phase = "Idle"
	PhaseQuizSent     Phase = "QuizSent"
	PhaseAnswering    Phase = "Answering"
	PhaseClosed       Phase = "Closed"
	PhaseJudged       Phase = "Judged"
	PhaseResultShared Phase = "ResultShared"
)

// ConnStatus tracks whether a participant currently holds a live connection.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
)

// Command is a client->server command name.
type Command string

const (
	CmdResetQuiz    Command = "resetQuiz"
	CmdGetNextQuiz  Command = "getNextQuiz"
	CmdReceivedQuiz Command = "receivedQuiz"
	CmdStartAnswer  Command = "startAnswer"
	CmdAnswerQuiz   Command = "answerQuiz"
	CmdStopAnswer   Command = "stopAnswer"
	CmdGetAnswers   Command = "getAnswers"
	CmdSendResult   Command = "sendResult"
	CmdLeaveRoom    Command = "leaveRoom"
)

// EventType is a server->client event discriminant.
type EventType string

const (
	EvtJoined             EventType = "joined"
	EvtSystem             EventType = "system"
	EvtSentNextQuiz       EventType = "sentNextQuiz"
	EvtNotifyReceivedQuiz EventType = "notifyReceivedQuiz"
	EvtSentAllQuizzes     EventType = "sentAllQuizzes"
	EvtStartedAnswering   EventType = "startedAnswering"
	EvtAnswerAccepted     EventType = "answerAccepted"
	EvtStoppedAnswering   EventType = "stoppedAnswering"
	EvtSentAnswers        EventType = "sentAnswers"
	EvtShareResult        EventType = "shareResult"
	EvtResetCompleted     EventType = "resetCompleted"
	EvtError              EventType = "error"
)

// Identity is what the authentication side-channel vouches for.
type Identity struct {
	ParticipantID string
	Name          string
	// OwnedRooms lists the room ids this participant may open as owner.
	OwnedRooms []string
}

// Owns reports whether the identity is entitled to own roomID.
func (i Identity) Owns(roomID string) bool {
	for _, id := range i.OwnedRooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// Player is a roster entry. Disconnection only flips Status.
type Player struct {
	ParticipantID string     `json:"participantId"`
	Name          string     `json:"name"`
	Role          Role       `json:"role"`
	Status        ConnStatus `json:"status"`
	LastSeen      time.Time  `json:"lastSeen"`
	JoinedAt      time.Time  `json:"joinedAt"`
}

// Quiz is one question of the session. Prompt and Answer are opaque to the protocol.
type Quiz struct {
	Index  int             `json:"index"`
	ID     string          `json:"id,omitempty"`
	Prompt json.RawMessage `json:"prompt"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// Answer is a participant's live submission for the open quiz.
type Answer struct {
	ParticipantID string          `json:"participantId"`
	Name          string          `json:"name"`
	Payload       json.RawMessage `json:"answer"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	// Elapsed is seconds since answering opened.
	Elapsed float64 `json:"time"`
}

// ScoreEntry is one row of the score table.
type ScoreEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	LastDelta     int    `json:"lastDelta"`
}

// QuizBank is the authored content a room draws its questions from.
type QuizBank struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	MaxQuestion int         `json:"maxQuestion"`
	Shuffle     bool        `json:"shuffle"`
	Quizzes     []BankEntry `json:"quizzes"`
}

// BankEntry is a stored question with its correct answer.
type BankEntry struct {
	ID     string          `json:"id"`
	Prompt json.RawMessage `json:"prompt"`
	Answer json.RawMessage `json:"answer"`
}

// Snapshot is the join-time view a participant resynchronizes from.
type Snapshot struct {
	Version  int          `json:"version"`
	RoomID   string       `json:"roomId"`
	Owner    string       `json:"owner"`
	You      string       `json:"you"`
	Role     Role         `json:"role"`
	Phase    Phase        `json:"phase"`
	Round    int          `json:"round"`
	Roster   []Player     `json:"roster"`
	Scores   []ScoreEntry `json:"scores"`
	Quiz     *Quiz        `json:"quiz,omitempty"`
	MyAnswer *Answer      `json:"myAnswer,omitempty"`
}

// Event is a server->client message. Fields beyond Type are kind-specific.
type Event struct {
	Type          EventType       `json:"type"`
	Version       int             `json:"version"`
	Seq           uint64          `json:"seq,omitempty"`
	Datetime      string          `json:"datetime,omitempty"`
	Message       string          `json:"message,omitempty"`
	Data          any             `json:"data,omitempty"`
	Index         int             `json:"index,omitempty"`
	CorrectAnswer json.RawMessage `json:"correctAnswer,omitempty"`
	IsEnded       *bool           `json:"isEnded,omitempty"`
	Received      int             `json:"received,omitempty"`
	Expected      int             `json:"expected,omitempty"`
	Command       Command         `json:"command,omitempty"`
	Code          string          `json:"code,omitempty"`
}
