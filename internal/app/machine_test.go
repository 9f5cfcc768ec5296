package app

import (
	"errors"
	"testing"

	"quizroom-service/internal/domain"
)

var allPhases = []domain.Phase{
	domain.PhaseIdle,
	domain.PhaseQuizSent,
	domain.PhaseAnswering,
	domain.PhaseClosed,
	domain.PhaseJudged,
	domain.PhaseResultShared,
}

func TestTransitionIsTotal(t *testing.T) {
	legal := map[domain.Command]map[domain.Phase]domain.Phase{
		domain.CmdGetNextQuiz:  {domain.PhaseIdle: domain.PhaseQuizSent, domain.PhaseResultShared: domain.PhaseQuizSent},
		domain.CmdReceivedQuiz: {domain.PhaseQuizSent: domain.PhaseQuizSent},
		domain.CmdStartAnswer:  {domain.PhaseQuizSent: domain.PhaseAnswering},
		domain.CmdAnswerQuiz:   {domain.PhaseAnswering: domain.PhaseAnswering},
		domain.CmdStopAnswer:   {domain.PhaseAnswering: domain.PhaseClosed},
		domain.CmdGetAnswers:   {domain.PhaseClosed: domain.PhaseJudged},
		domain.CmdSendResult:   {domain.PhaseJudged: domain.PhaseResultShared},
	}
	owners := map[domain.Command]domain.Role{
		domain.CmdGetNextQuiz:  domain.RoleOwner,
		domain.CmdReceivedQuiz: domain.RolePlayer,
		domain.CmdStartAnswer:  domain.RoleOwner,
		domain.CmdAnswerQuiz:   domain.RolePlayer,
		domain.CmdStopAnswer:   domain.RoleOwner,
		domain.CmdGetAnswers:   domain.RoleOwner,
		domain.CmdSendResult:   domain.RoleOwner,
		domain.CmdResetQuiz:    domain.RoleOwner,
	}

	for cmd, allowed := range owners {
		for _, phase := range allPhases {
			for _, role := range []domain.Role{domain.RoleOwner, domain.RolePlayer} {
				next, err := transition(phase, cmd, role)
				switch {
				case role != allowed:
					if !errors.Is(err, domain.ErrUnauthorized) {
						t.Fatalf("%s/%s/%s: expected Unauthorized, got %v", phase, cmd, role, err)
					}
				case cmd == domain.CmdResetQuiz:
					if err != nil || next != domain.PhaseIdle {
						t.Fatalf("reset from %s: got %s, %v", phase, next, err)
					}
				default:
					want, ok := legal[cmd][phase]
					if !ok {
						if !errors.Is(err, domain.ErrPhaseViolation) {
							t.Fatalf("%s/%s: expected PhaseViolation, got %v", phase, cmd, err)
						}
						if next != phase {
							t.Fatalf("%s/%s: rejected command moved phase to %s", phase, cmd, next)
						}
						continue
					}
					if err != nil || next != want {
						t.Fatalf("%s/%s: expected %s, got %s (%v)", phase, cmd, want, next, err)
					}
				}
			}
		}
	}
}

func TestTransitionUnknownCommand(t *testing.T) {
	_, err := transition(domain.PhaseIdle, "dance", domain.RoleOwner)
	if !errors.Is(err, domain.ErrUnknownCommand) {
		t.Fatalf("expected UnknownCommand, got %v", err)
	}
}

func TestAuthorizationCheckedBeforePhase(t *testing.T) {
	// startAnswer is illegal in Idle, but a player must learn it is not theirs first.
	_, err := transition(domain.PhaseIdle, domain.CmdStartAnswer, domain.RolePlayer)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}
