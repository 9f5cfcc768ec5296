package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// RoomRepository abstracts the process-wide room registry (in-memory, Redis, etc).
type RoomRepository interface {
	// GetOrCreate returns the live room for roomID, calling newRoom only when
	// none is registered. created reports whether newRoom was used.
	GetOrCreate(roomID string, newRoom func() *Room) (room *Room, created bool)
	Get(roomID string) (*Room, bool)
	// ReleaseIfEmpty drops the room when it can be retired.
	ReleaseIfEmpty(roomID string) bool
}

// BankRepository loads the quiz bank a room draws questions from.
type BankRepository interface {
	GetBank(ctx context.Context, roomID string) (domain.QuizBank, error)
}

// Options configures room limits for every room the service creates.
type Options struct {
	GracePeriod    time.Duration
	MaxPlayers     int
	AnswerDeadline time.Duration
	// Clock defaults to time.Now. Idle release ignores it and runs on wall time.
	Clock func() time.Time
}

// JoinResult is what a connection learns when it attaches to a room.
type JoinResult struct {
	ConnID   string
	Role     domain.Role
	Snapshot domain.Snapshot
}

// RoomService contains the quiz room use cases.
type RoomService struct {
	rooms  RoomRepository
	banks  BankRepository
	opts   Options
	logger *zap.Logger
}

func NewRoomService(rooms RoomRepository, banks BankRepository, logger *zap.Logger, opts Options) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{rooms: rooms, banks: banks, opts: opts, logger: logger}
}

const joinAttempts = 3

// Join attaches an authenticated participant to roomID. Ownership comes from
// the verified identity, never from the client. The joiner receives a
// "joined" event carrying the snapshot on sink before any later room event.
func (s *RoomService) Join(ctx context.Context, roomID string, id domain.Identity, sink Sink) (JoinResult, error) {
	claimedOwner := id.Owns(roomID)
	connID := uuid.NewString()
	log := s.logger.With(zap.String("room", roomID), zap.String("participant", id.ParticipantID), zap.String("conn", connID))

	for attempt := 0; attempt < joinAttempts; attempt++ {
		room, ok := s.rooms.Get(roomID)
		if !ok {
			if !claimedOwner {
				return JoinResult{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
			}
			bank := s.loadBank(ctx, roomID)
			var created bool
			room, created = s.rooms.GetOrCreate(roomID, func() *Room {
				return NewRoom(roomID, id.ParticipantID, bank, s.roomOptions())
			})
			if created {
				log.Info("room created", zap.Bool("bank", bank != nil))
			}
		}

		snap, err := room.join(id, claimedOwner, connID, sink)
		if errors.Is(err, errRoomRetired) {
			continue
		}
		if err != nil {
			log.Info("join rejected", zap.Error(err))
			return JoinResult{}, err
		}
		log.Info("participant joined", zap.String("role", string(snap.Role)))
		return JoinResult{ConnID: connID, Role: snap.Role, Snapshot: snap}, nil
	}
	return JoinResult{}, fmt.Errorf("room %s kept retiring during join: %w", roomID, domain.ErrRoomNotFound)
}

// Dispatch forwards one decoded command to the sender's room.
func (s *RoomService) Dispatch(_ context.Context, roomID, participantID, connID string, cmd domain.Command, data json.RawMessage) error {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	if cmd == domain.CmdLeaveRoom {
		return s.leave(room, participantID, connID)
	}
	if err := room.apply(participantID, connID, cmd, data); err != nil {
		s.logger.Debug("command rejected",
			zap.String("room", roomID),
			zap.String("participant", participantID),
			zap.String("command", string(cmd)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("command applied",
		zap.String("room", roomID),
		zap.String("participant", participantID),
		zap.String("command", string(cmd)))
	return nil
}

// Disconnect marks the participant's seat disconnected; the seat, score and
// pending answer survive for a later rejoin.
func (s *RoomService) Disconnect(_ context.Context, roomID, participantID, connID string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	room.disconnect(participantID, connID)
}

// Leave removes a player's seat. For the owner it is a disconnect.
func (s *RoomService) Leave(_ context.Context, roomID, participantID, connID string) error {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	return s.leave(room, participantID, connID)
}

func (s *RoomService) leave(room *Room, participantID, connID string) error {
	if err := room.leave(participantID, connID); err != nil {
		return err
	}
	s.logger.Info("participant left", zap.String("room", room.ID()), zap.String("participant", participantID))
	return nil
}

// Snapshot returns the join-time view of roomID for participantID.
func (s *RoomService) Snapshot(_ context.Context, roomID, participantID string) (domain.Snapshot, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	return room.snapshot(participantID)
}

func (s *RoomService) roomOptions() RoomOptions {
	return RoomOptions{
		GracePeriod:    s.opts.GracePeriod,
		MaxPlayers:     s.opts.MaxPlayers,
		AnswerDeadline: s.opts.AnswerDeadline,
		Clock:          s.opts.Clock,
		OnIdle:         s.scheduleRelease,
	}
}

// scheduleRelease runs under the room lock, so the registry check happens on
// a timer goroutine.
func (s *RoomService) scheduleRelease(roomID string, empty bool) {
	delay := s.opts.GracePeriod
	if empty {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		if s.rooms.ReleaseIfEmpty(roomID) {
			s.logger.Info("room released", zap.String("room", roomID))
		}
	})
}

func (s *RoomService) loadBank(ctx context.Context, roomID string) *domain.QuizBank {
	if s.banks == nil {
		return nil
	}
	bank, err := s.banks.GetBank(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrQuizNotFound) {
			s.logger.Warn("quiz bank unavailable, inline quizzes only", zap.String("room", roomID), zap.Error(err))
		}
		return nil
	}
	return &bank
}
