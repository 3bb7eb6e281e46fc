package agent

import (
	"github.com/spindlehq/spindle/pkg/models"
)

// planDirective is appended to the system prompt while the session is in
// plan mode. The model may read and analyze but must not mutate anything.
const planDirective = "You are in plan mode. Investigate and produce a plan, " +
	"but do not modify files, run state-changing commands, or take any " +
	"action with side effects. Present the plan for approval instead."

// buildSwitchNotice is appended to the first user turn after the session
// leaves plan mode for build mode.
const buildSwitchNotice = "The user has approved the plan and switched to " +
	"build mode. Carry out the approved plan now."

// systemPromptFor composes the effective system prompt for the session's
// current mode.
func systemPromptFor(base string, sess *models.Session) string {
	if sess.Mode == models.ModePlan {
		if base == "" {
			return planDirective
		}
		return base + "\n\n" + planDirective
	}
	return base
}

// userTurn builds the user message opening a run. The build switch notice
// is attached exactly once: only on the turn where the previous assistant
// message was produced in plan mode and the session has since moved to
// build mode.
func userTurn(sess *models.Session, input string) models.HistoryMessage {
	parts := []models.Part{models.TextPart(input)}
	if sess.Mode == models.ModeBuild {
		if last, ok := sess.LastAssistantMode(); ok && last == models.ModePlan {
			parts = append(parts, models.TextPart(buildSwitchNotice))
		}
	}
	return models.HistoryMessage{
		Role:  models.RoleUser,
		Parts: parts,
		Mode:  sess.Mode,
	}
}
