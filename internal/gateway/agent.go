package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	transitionsdk "transitionos/sdk/go"
)

// Backend is the slice of the core API the chat agent needs.
type Backend interface {
	Health(ctx context.Context) (transitionsdk.Health, error)
	ListTransitions(ctx context.Context, f transitionsdk.TransitionFilters) ([]transitionsdk.Household, error)
	CompleteTask(ctx context.Context, taskID, note string) (transitionsdk.Task, error)
}

// Reply is the agent's answer to one chat message.
type Reply struct {
	Response string
	Data     map[string]any
}

const (
	promptEmpty = "Send a message and I can fetch transition data for you."
	promptUsage = "I can help with transitions, households, or task completion. Try: 'show households' or 'complete task 12'."

	listedInData = 10
	namedInReply = 5
)

var (
	healthWords    = []string{"health", "status", "uptime"}
	householdWords = []string{"household", "households", "transition", "dashboard"}
	taskPattern    = regexp.MustCompile(`task\s*(\d+)`)
)

// Agent maps free-text messages onto backend calls by keyword.
type Agent struct {
	backend Backend
}

func NewAgent(backend Backend) *Agent {
	return &Agent{backend: backend}
}

// Respond matches intents in order: health, household listing, task
// completion. Anything else gets the usage hint.
func (a *Agent) Respond(ctx context.Context, message string) (Reply, error) {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)
	data := map[string]any{}

	if text == "" {
		return Reply{Response: promptEmpty, Data: data}, nil
	}

	if containsAny(lower, healthWords) {
		health, err := a.backend.Health(ctx)
		if err != nil {
			return Reply{}, err
		}
		data["health"] = health
		status := health.Status
		if status == "" {
			status = "UNKNOWN"
		}
		return Reply{Response: fmt.Sprintf("Backend is %s.", status), Data: data}, nil
	}

	if containsAny(lower, householdWords) {
		households, err := a.backend.ListTransitions(ctx, transitionsdk.TransitionFilters{})
		if err != nil {
			return Reply{}, err
		}
		data["households"] = households[:min(len(households), listedInData)]
		names := make([]string, 0, namedInReply)
		for _, h := range households[:min(len(households), namedInReply)] {
			name := h.Name
			if name == "" {
				name = "Unknown"
			}
			names = append(names, name)
		}
		if len(names) > 0 {
			return Reply{
				Response: fmt.Sprintf("I found %d households. Top 5: %s.", len(households), strings.Join(names, ", ")),
				Data:     data,
			}, nil
		}
		return Reply{Response: fmt.Sprintf("I found %d households.", len(households)), Data: data}, nil
	}

	if m := taskPattern.FindStringSubmatch(lower); m != nil && strings.Contains(lower, "complete") {
		taskID := m[1]
		task, err := a.backend.CompleteTask(ctx, taskID, "")
		if err != nil {
			return Reply{}, err
		}
		data["task"] = task
		return Reply{Response: fmt.Sprintf("Task %s marked COMPLETED.", taskID), Data: data}, nil
	}

	return Reply{Response: promptUsage, Data: data}, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
