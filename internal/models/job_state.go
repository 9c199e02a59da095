package models

// JobState is the lifecycle state shared by BackupJob and RecoveryJob.
type JobState string

const (
	// JobStatePending indicates the job is recorded and waiting for a worker.
	JobStatePending JobState = "pending"
	// JobStateInProgress indicates exactly one worker is executing the job.
	JobStateInProgress JobState = "in_progress"
	// JobStateCompleted indicates the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job finished with an error.
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates the job was cancelled before or during
	// execution. Cancellation is not a failure and carries no error.
	JobStateCancelled JobState = "cancelled"
)

// Error codes attached to failed jobs so operators can tell a crashed worker
// from an explicitly reported failure.
const (
	// ErrorCodeWorkerFailed marks a failure reported by the executing worker.
	ErrorCodeWorkerFailed = "worker_failed"
	// ErrorCodeHeartbeatLost marks a failure induced by the liveness sweep.
	ErrorCodeHeartbeatLost = "heartbeat_lost"
)

// HeartbeatLostMessage is the error detail set by the liveness sweep.
const HeartbeatLostMessage = "worker heartbeat lost"

// Terminal returns true if the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Active returns true for states that count against the per-server
// single-active-job invariant.
func (s JobState) Active() bool {
	return s == JobStatePending || s == JobStateInProgress
}

// CanTransition reports whether the state machine permits s -> to.
func (s JobState) CanTransition(to JobState) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case JobStatePending:
		return to == JobStateInProgress || to == JobStateCancelled
	case JobStateInProgress:
		return to == JobStateCompleted || to == JobStateFailed || to == JobStateCancelled
	default:
		return false
	}
}
