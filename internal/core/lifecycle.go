package core

import "labexec/pkg/domain"

// Execution lifecycle commands.
const (
	CommandStart    = "start"
	CommandPause    = "pause"
	CommandResume   = "resume"
	CommandComplete = "complete"
	CommandFail     = "fail"
	CommandCancel   = "cancel"
)

type lifecycleEdge struct {
	from map[domain.ExecutionStatus]struct{}
	to   domain.ExecutionStatus
}

var executionMachine = map[string]lifecycleEdge{
	CommandStart:    {from: statusSet(domain.ExecutionNotStarted), to: domain.ExecutionInProgress},
	CommandPause:    {from: statusSet(domain.ExecutionInProgress), to: domain.ExecutionPaused},
	CommandResume:   {from: statusSet(domain.ExecutionPaused), to: domain.ExecutionInProgress},
	CommandComplete: {from: statusSet(domain.ExecutionInProgress), to: domain.ExecutionCompleted},
	CommandFail:     {from: statusSet(domain.ExecutionInProgress, domain.ExecutionPaused), to: domain.ExecutionFailed},
	CommandCancel:   {from: statusSet(domain.ExecutionNotStarted, domain.ExecutionInProgress, domain.ExecutionPaused), to: domain.ExecutionCancelled},
}

var validExecutionStatuses = statusSet(
	domain.ExecutionNotStarted,
	domain.ExecutionInProgress,
	domain.ExecutionPaused,
	domain.ExecutionCompleted,
	domain.ExecutionFailed,
	domain.ExecutionCancelled,
)

// transition returns the target status of command from current, or an
// InvalidTransitionError naming both.
func transition(exec domain.Execution, command string) (domain.ExecutionStatus, error) {
	edge, ok := executionMachine[command]
	if ok {
		if _, allowed := edge.from[exec.Status]; allowed {
			return edge.to, nil
		}
	}
	return exec.Status, domain.InvalidTransitionError{
		Entity:  domain.EntityExecution,
		ID:      exec.ID,
		Current: string(exec.Status),
		Command: command,
	}
}

// allowedEdge reports whether some command moves from one status to another.
func allowedEdge(from, to domain.ExecutionStatus) bool {
	for _, edge := range executionMachine {
		if edge.to != to {
			continue
		}
		if _, ok := edge.from[from]; ok {
			return true
		}
	}
	return false
}

func requireActive(exec domain.Execution) error {
	if exec.Status != domain.ExecutionInProgress {
		return domain.ExecutionNotActiveError{ExecutionID: exec.ID, Status: exec.Status}
	}
	return nil
}

func requireNotTerminal(exec domain.Execution, command string) error {
	if exec.Status.Terminal() {
		return domain.InvalidTransitionError{
			Entity:  domain.EntityExecution,
			ID:      exec.ID,
			Current: string(exec.Status),
			Command: command,
		}
	}
	return nil
}

func statusSet(values ...domain.ExecutionStatus) map[domain.ExecutionStatus]struct{} {
	set := make(map[domain.ExecutionStatus]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
