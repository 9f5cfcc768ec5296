package app

import (
	"fmt"
	"slices"

	"quizroom-service/internal/domain"
)

// capability binds a command to the single role allowed to send it and the
// phases it is legal in. An empty from list means any phase; an empty to
// means the phase does not change.
type capability struct {
	role domain.Role
	from []domain.Phase
	to   domain.Phase
}

var commandTable = map[domain.Command]capability{
	domain.CmdGetNextQuiz: {
		role: domain.RoleOwner,
		from: []domain.Phase{domain.PhaseIdle, domain.PhaseResultShared},
		to:   domain.PhaseQuizSent,
	},
	domain.CmdReceivedQuiz: {
		role: domain.RolePlayer,
		from: []domain.Phase{domain.PhaseQuizSent},
	},
	domain.CmdStartAnswer: {
		role: domain.RoleOwner,
		from: []domain.Phase{domain.PhaseQuizSent},
		to:   domain.PhaseAnswering,
	},
	domain.CmdAnswerQuiz: {
		role: domain.RolePlayer,
		from: []domain.Phase{domain.PhaseAnswering},
	},
	domain.CmdStopAnswer: {
		role: domain.RoleOwner,
		from: []domain.Phase{domain.PhaseAnswering},
		to:   domain.PhaseClosed,
	},
	domain.CmdGetAnswers: {
		role: domain.RoleOwner,
		from: []domain.Phase{domain.PhaseClosed},
		to:   domain.PhaseJudged,
	},
	domain.CmdSendResult: {
		role: domain.RoleOwner,
		from: []domain.Phase{domain.PhaseJudged},
		to:   domain.PhaseResultShared,
	},
	// resetQuiz is the only command that skips the phase check.
	domain.CmdResetQuiz: {
		role: domain.RoleOwner,
		to:   domain.PhaseIdle,
	},
}

// transition validates (phase, command, role) and returns the phase the room
// moves to. Authorization is checked before phase legality.
func transition(phase domain.Phase, cmd domain.Command, role domain.Role) (domain.Phase, error) {
	c, ok := commandTable[cmd]
	if !ok {
		return phase, fmt.Errorf("%q: %w", cmd, domain.ErrUnknownCommand)
	}
	if role != c.role {
		return phase, fmt.Errorf("%s as %s: %w", cmd, role, domain.ErrUnauthorized)
	}
	if len(c.from) > 0 && !slices.Contains(c.from, phase) {
		return phase, fmt.Errorf("%s in %s: %w", cmd, phase, domain.ErrPhaseViolation)
	}
	if c.to == "" {
		return phase, nil
	}
	return c.to, nil
}
