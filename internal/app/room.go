package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// errRoomRetired is returned to a join that raced with registry release.
var errRoomRetired = errors.New("room retired")

// RoomOptions tunes a room's limits and hooks.
type RoomOptions struct {
	GracePeriod    time.Duration
	MaxPlayers     int
	AnswerDeadline time.Duration
	// Clock stamps events and measures answer windows. The idle grace period
	// is always measured on wall time, matching the release timer.
	Clock func() time.Time
	// OnIdle runs under the room lock when the last connection goes away.
	// empty is true when no seats remain at all.
	OnIdle func(roomID string, empty bool)
}

type seat struct {
	player domain.Player
	sink   Sink
	connID string
}

// Room owns one quiz session. Every read-modify-write of its state happens
// under mu, one command at a time.
type Room struct {
	id    string
	owner string
	opts  RoomOptions
	now   func() time.Time
	rnd   *rand.Rand

	mu        sync.Mutex
	retired   bool
	seats     map[string]*seat
	order     []string
	scores    map[string]*domain.ScoreEntry
	phase     domain.Phase
	index     int
	quiz      *domain.Quiz
	answers   map[string]domain.Answer
	acks      map[string]struct{}
	allAcked  bool
	openedAt  time.Time
	bank      *domain.QuizBank
	sequence  []domain.BankEntry
	idleSince time.Time
	out       dispatcher
}

// NewRoom creates a room whose owner is fixed for its whole lifetime. bank may
// be nil, in which case quizzes must be supplied inline by the owner.
func NewRoom(id, owner string, bank *domain.QuizBank, opts RoomOptions) *Room {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	r := &Room{
		id:        id,
		owner:     owner,
		opts:      opts,
		now:       now,
		rnd:       rand.New(rand.NewSource(now().UnixNano())),
		seats:     make(map[string]*seat),
		scores:    make(map[string]*domain.ScoreEntry),
		phase:     domain.PhaseIdle,
		index:     1,
		answers:   make(map[string]domain.Answer),
		acks:      make(map[string]struct{}),
		bank:      bank,
		idleSince: time.Now(),
		out:       dispatcher{clock: now},
	}
	r.sequence = r.buildSequence()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Owner returns the fixed owner identity.
func (r *Room) Owner() string { return r.owner }

// Phase returns the current phase.
func (r *Room) Phase() domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// TryRetire marks the room retired when nobody is seated, or when every seat
// has been disconnected for at least the grace period. It reports whether the
// room was retired and may be dropped from the registry.
func (r *Room) TryRetire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return true
	}
	if len(r.seats) > 0 {
		if r.connectedLocked() > 0 {
			return false
		}
		if time.Since(r.idleSince) < r.opts.GracePeriod {
			return false
		}
	}
	r.retired = true
	return true
}

func (r *Room) join(id domain.Identity, claimedOwner bool, connID string, sink Sink) (domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retired {
		return domain.Snapshot{}, errRoomRetired
	}
	if claimedOwner && id.ParticipantID != r.owner {
		return domain.Snapshot{}, fmt.Errorf("room %s: %w", r.id, domain.ErrRoleConflict)
	}

	now := r.now()
	st, ok := r.seats[id.ParticipantID]
	if ok {
		if st.sink != nil {
			st.sink.Close()
		}
		if id.Name != "" {
			st.player.Name = id.Name
			r.scores[id.ParticipantID].Name = id.Name
		}
	} else {
		if r.opts.MaxPlayers > 0 && len(r.seats) >= r.opts.MaxPlayers {
			return domain.Snapshot{}, fmt.Errorf("room %s: %w", r.id, domain.ErrRoomFull)
		}
		role := domain.RolePlayer
		if id.ParticipantID == r.owner {
			role = domain.RoleOwner
		}
		st = &seat{player: domain.Player{
			ParticipantID: id.ParticipantID,
			Name:          id.Name,
			Role:          role,
			JoinedAt:      now,
		}}
		r.seats[id.ParticipantID] = st
		r.order = append(r.order, id.ParticipantID)
		r.scores[id.ParticipantID] = &domain.ScoreEntry{ParticipantID: id.ParticipantID, Name: id.Name}
	}
	st.sink = sink
	st.connID = connID
	st.player.Status = domain.StatusConnected
	st.player.LastSeen = now

	snap := r.snapshotLocked(st)
	r.emitLocked(id.ParticipantID, senderOnly(domain.Event{
		Type:    domain.EvtJoined,
		Message: fmt.Sprintf("Joined %s as %s", r.id, st.player.Role),
		Data:    snap,
	}))
	r.emitLocked(id.ParticipantID, broadcast(domain.Event{
		Type:    domain.EvtSystem,
		Message: fmt.Sprintf("Join %s to %s", displayName(st.player), r.id),
	}))
	return snap, nil
}

// snapshot returns the view participantID would receive on join.
func (r *Room) snapshot(participantID string) (domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.seats[participantID]
	if !ok {
		return domain.Snapshot{}, domain.ErrParticipantNotFound
	}
	return r.snapshotLocked(st), nil
}

func (r *Room) apply(participantID, connID string, cmd domain.Command, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.seats[participantID]
	if !ok || st.connID != connID {
		return fmt.Errorf("%s in room %s: %w", participantID, r.id, domain.ErrParticipantNotFound)
	}
	if st.sink == nil {
		return fmt.Errorf("%s in room %s: %w", participantID, r.id, domain.ErrTransportFailure)
	}
	st.player.LastSeen = r.now()

	next, err := transition(r.phase, cmd, st.player.Role)
	if err != nil {
		return err
	}

	switch cmd {
	case domain.CmdGetNextQuiz:
		err = r.sendNextQuizLocked(data)
	case domain.CmdReceivedQuiz:
		r.receivedQuizLocked(st)
	case domain.CmdStartAnswer:
		r.startAnswerLocked()
	case domain.CmdAnswerQuiz:
		err = r.answerQuizLocked(st, data)
	case domain.CmdStopAnswer:
		r.emitLocked(participantID, broadcast(domain.Event{
			Type:    domain.EvtStoppedAnswering,
			Message: "Responses have ended. No more responses will be accepted.",
		}))
	case domain.CmdGetAnswers:
		r.shareAnswersLocked()
	case domain.CmdSendResult:
		err = r.sendResultLocked(data)
	case domain.CmdResetQuiz:
		err = r.resetLocked(data)
	}
	if err != nil {
		return err
	}
	r.phase = next
	return nil
}

func (r *Room) sendNextQuizLocked(data json.RawMessage) error {
	var quiz domain.Quiz
	if isEmptyPayload(data) {
		if len(r.sequence) == 0 {
			return fmt.Errorf("room %s has no quiz bank: %w", r.id, domain.ErrQuizNotFound)
		}
		if r.index > len(r.sequence) {
			r.index = 1
		}
		entry := r.sequence[r.index-1]
		quiz = domain.Quiz{ID: entry.ID, Prompt: entry.Prompt, Answer: entry.Answer}
	} else {
		var inline struct {
			ID     string          `json:"id"`
			Prompt json.RawMessage `json:"prompt"`
			Answer json.RawMessage `json:"answer"`
		}
		if err := json.Unmarshal(data, &inline); err != nil || isEmptyPayload(inline.Prompt) {
			return fmt.Errorf("next quiz needs a prompt: %w", domain.ErrInvalidPayload)
		}
		quiz = domain.Quiz{ID: inline.ID, Prompt: inline.Prompt, Answer: inline.Answer}
	}
	quiz.Index = r.index

	r.quiz = &quiz
	r.answers = make(map[string]domain.Answer)
	r.acks = make(map[string]struct{})
	r.allAcked = false

	r.emitLocked(r.owner, byRole(func(role domain.Role) domain.Event {
		ev := domain.Event{
			Type:    domain.EvtSentNextQuiz,
			Message: "The next quiz is received.",
			Data:    quiz.Prompt,
			Index:   quiz.Index,
		}
		if role == domain.RoleOwner {
			ev.CorrectAnswer = quiz.Answer
		}
		return ev
	}))
	return nil
}

func (r *Room) receivedQuizLocked(st *seat) {
	if _, ok := r.acks[st.player.ParticipantID]; ok {
		return
	}
	r.acks[st.player.ParticipantID] = struct{}{}

	received, expected := r.ackProgressLocked()
	r.emitLocked(st.player.ParticipantID, ownerOnly(domain.Event{
		Type:     domain.EvtNotifyReceivedQuiz,
		Message:  fmt.Sprintf("%s received the quiz.", displayName(st.player)),
		Data:     st.player.ParticipantID,
		Index:    r.quiz.Index,
		Received: received,
		Expected: expected,
	}))
	r.checkAllAckedLocked(st.player.ParticipantID)
}

// ackProgressLocked counts connected players and how many of them have
// acknowledged the open quiz. Acks from players who dropped do not count.
func (r *Room) ackProgressLocked() (received, expected int) {
	for id, st := range r.seats {
		if st.player.Role != domain.RolePlayer || st.player.Status != domain.StatusConnected {
			continue
		}
		expected++
		if _, ok := r.acks[id]; ok {
			received++
		}
	}
	return received, expected
}

// checkAllAckedLocked tells the owner, once per quiz, that every connected
// player has the quiz. Roster changes can complete the set as well as acks.
func (r *Room) checkAllAckedLocked(sender string) {
	if r.phase != domain.PhaseQuizSent || r.quiz == nil || r.allAcked {
		return
	}
	received, expected := r.ackProgressLocked()
	if expected == 0 || received < expected {
		return
	}
	r.allAcked = true
	r.emitLocked(sender, ownerOnly(domain.Event{
		Type:     domain.EvtSentAllQuizzes,
		Message:  "All players received the quiz.",
		Index:    r.quiz.Index,
		Received: received,
		Expected: expected,
	}))
}

func (r *Room) startAnswerLocked() {
	r.answers = make(map[string]domain.Answer)
	r.openedAt = r.now()
	r.emitLocked(r.owner, broadcast(domain.Event{
		Type:    domain.EvtStartedAnswering,
		Message: "Answering has started.",
		Index:   r.quiz.Index,
	}))
}

func (r *Room) answerQuizLocked(st *seat, data json.RawMessage) error {
	now := r.now()
	if r.opts.AnswerDeadline > 0 && now.Sub(r.openedAt) > r.opts.AnswerDeadline {
		return fmt.Errorf("answer after %s: %w", r.opts.AnswerDeadline, domain.ErrAnswerWindowClosed)
	}
	if isEmptyPayload(data) {
		return fmt.Errorf("empty answer: %w", domain.ErrInvalidPayload)
	}
	answer := domain.Answer{
		ParticipantID: st.player.ParticipantID,
		Name:          st.player.Name,
		Payload:       append(json.RawMessage(nil), data...),
		SubmittedAt:   now,
		Elapsed:       now.Sub(r.openedAt).Seconds(),
	}
	r.answers[st.player.ParticipantID] = answer
	r.emitLocked(st.player.ParticipantID, senderOnly(domain.Event{
		Type:    domain.EvtAnswerAccepted,
		Message: "Your answer is accepted.",
		Data:    answer,
		Index:   r.quiz.Index,
	}))
	return nil
}

func (r *Room) shareAnswersLocked() {
	answers := r.answersLocked()
	correct := r.quiz.Answer
	r.emitLocked(r.owner, byRole(func(role domain.Role) domain.Event {
		ev := domain.Event{
			Type:          domain.EvtSentAnswers,
			Message:       "All player's answers are received.",
			CorrectAnswer: correct,
			Index:         r.quiz.Index,
		}
		if role == domain.RoleOwner {
			ev.Data = answers
		}
		return ev
	}))
}

func (r *Room) sendResultLocked(data json.RawMessage) error {
	deltas := map[string]int{}
	if !isEmptyPayload(data) {
		if err := json.Unmarshal(data, &deltas); err != nil {
			return fmt.Errorf("result must map participants to points: %w", domain.ErrInvalidPayload)
		}
	}
	for id := range deltas {
		if _, ok := r.scores[id]; !ok {
			return fmt.Errorf("unknown participant %q: %w", id, domain.ErrInvalidPayload)
		}
	}

	for id, entry := range r.scores {
		delta := deltas[id]
		entry.Score += delta
		entry.LastDelta = delta
	}
	ended := len(r.sequence) > 0 && r.index >= len(r.sequence)
	r.index++
	r.quiz = nil

	message := "The score is updated. Please next quiz."
	if ended {
		message = "All quizzes have been asked. Please press the reset button."
	}
	r.emitLocked(r.owner, broadcast(domain.Event{
		Type:    domain.EvtShareResult,
		Message: message,
		Data:    r.scoresLocked(),
		IsEnded: &ended,
	}))
	return nil
}

func (r *Room) resetLocked(data json.RawMessage) error {
	var opts struct {
		DropDisconnected bool `json:"dropDisconnected"`
	}
	if !isEmptyPayload(data) {
		if err := json.Unmarshal(data, &opts); err != nil {
			return fmt.Errorf("reset options: %w", domain.ErrInvalidPayload)
		}
	}

	if opts.DropDisconnected {
		for _, id := range append([]string(nil), r.order...) {
			st := r.seats[id]
			if st.player.Role != domain.RoleOwner && st.player.Status == domain.StatusDisconnected {
				r.removeSeatLocked(id)
			}
		}
	}
	r.quiz = nil
	r.answers = make(map[string]domain.Answer)
	r.acks = make(map[string]struct{})
	r.allAcked = false
	r.index = 1
	r.sequence = r.buildSequence()
	for _, entry := range r.scores {
		entry.Score = 0
		entry.LastDelta = 0
	}
	r.emitLocked(r.owner, broadcast(domain.Event{
		Type:    domain.EvtResetCompleted,
		Message: "Status reset is completed",
		Data:    r.scoresLocked(),
	}))
	return nil
}

// disconnect marks the seat disconnected unless connID has been superseded.
func (r *Room) disconnect(participantID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.seats[participantID]
	if !ok || st.connID != connID || st.sink == nil {
		return
	}
	r.dropSeatLocked(st)
	r.emitLocked(participantID, broadcast(domain.Event{
		Type:    domain.EvtSystem,
		Message: fmt.Sprintf("Leave %s from %s", displayName(st.player), r.id),
	}))
}

// leave removes a player's seat entirely. The owner seat is immutable, so an
// owner leaving is treated as a disconnect.
func (r *Room) leave(participantID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.seats[participantID]
	if !ok || st.connID != connID {
		return fmt.Errorf("%s in room %s: %w", participantID, r.id, domain.ErrParticipantNotFound)
	}
	if st.player.Role == domain.RoleOwner {
		if st.sink != nil {
			r.dropSeatLocked(st)
		}
	} else {
		if st.sink != nil {
			st.sink.Close()
			st.sink = nil
		}
		r.removeSeatLocked(participantID)
		r.checkIdleLocked()
		r.checkAllAckedLocked(participantID)
	}
	r.emitLocked(participantID, broadcast(domain.Event{
		Type:    domain.EvtSystem,
		Message: fmt.Sprintf("Leave %s from %s", displayName(st.player), r.id),
	}))
	return nil
}

func (r *Room) removeSeatLocked(id string) {
	delete(r.seats, id)
	delete(r.scores, id)
	delete(r.answers, id)
	delete(r.acks, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// dropSeatLocked detaches the seat's connection and keeps the seat.
func (r *Room) dropSeatLocked(st *seat) {
	if st.sink != nil {
		st.sink.Close()
		st.sink = nil
	}
	st.player.Status = domain.StatusDisconnected
	st.player.LastSeen = r.now()
	r.checkIdleLocked()
	r.checkAllAckedLocked(st.player.ParticipantID)
}

func (r *Room) checkIdleLocked() {
	if r.connectedLocked() > 0 {
		return
	}
	r.idleSince = time.Now()
	if r.opts.OnIdle != nil {
		r.opts.OnIdle(r.id, len(r.seats) == 0)
	}
}

func (r *Room) emitLocked(sender string, em emission) {
	seats := make([]*seat, 0, len(r.order))
	for _, id := range r.order {
		seats = append(seats, r.seats[id])
	}
	for _, failed := range r.out.dispatch(seats, sender, em) {
		r.dropSeatLocked(failed)
	}
}

func (r *Room) connectedLocked() int {
	n := 0
	for _, st := range r.seats {
		if st.player.Status == domain.StatusConnected {
			n++
		}
	}
	return n
}

func (r *Room) snapshotLocked(st *seat) domain.Snapshot {
	roster := make([]domain.Player, 0, len(r.order))
	for _, id := range r.order {
		roster = append(roster, r.seats[id].player)
	}
	snap := domain.Snapshot{
		Version: domain.ProtocolVersion,
		RoomID:  r.id,
		Owner:   r.owner,
		You:     st.player.ParticipantID,
		Role:    st.player.Role,
		Phase:   r.phase,
		Round:   r.index,
		Roster:  roster,
		Scores:  r.scoresLocked(),
	}
	if r.quiz != nil {
		quiz := *r.quiz
		if st.player.Role != domain.RoleOwner && r.phase != domain.PhaseJudged {
			quiz.Answer = nil
		}
		snap.Quiz = &quiz
	}
	if answer, ok := r.answers[st.player.ParticipantID]; ok {
		snap.MyAnswer = &answer
	}
	return snap
}

func (r *Room) scoresLocked() []domain.ScoreEntry {
	out := make([]domain.ScoreEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.scores[id])
	}
	return out
}

func (r *Room) answersLocked() []domain.Answer {
	out := make([]domain.Answer, 0, len(r.answers))
	for _, id := range r.order {
		if answer, ok := r.answers[id]; ok {
			out = append(out, answer)
		}
	}
	return out
}

func (r *Room) buildSequence() []domain.BankEntry {
	if r.bank == nil {
		return nil
	}
	seq := append([]domain.BankEntry(nil), r.bank.Quizzes...)
	if r.bank.Shuffle {
		r.rnd.Shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
	}
	if r.bank.MaxQuestion > 0 && len(seq) > r.bank.MaxQuestion {
		seq = seq[:r.bank.MaxQuestion]
	}
	return seq
}

func displayName(p domain.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ParticipantID
}

func isEmptyPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
