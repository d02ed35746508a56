package notify

// OutcomeStatus is the tri-state result of a chain scheduling attempt.
type OutcomeStatus string

const (
	OutcomeScheduled   OutcomeStatus = "scheduled"
	OutcomeTrimmed     OutcomeStatus = "trimmed"
	OutcomeUnavailable OutcomeStatus = "unavailable"
)

// UnavailableReason classifies why nothing could be scheduled.
type UnavailableReason string

const (
	ReasonPermissions          UnavailableReason = "permissions"
	ReasonGlobalLimit          UnavailableReason = "globalLimit"
	ReasonInvalidConfiguration UnavailableReason = "invalidConfiguration"
	ReasonOther                UnavailableReason = "other"
)

// Outcome reports what a scheduling call achieved. Scheduled and
// trimmed both count as success; unavailable does not.
type Outcome struct {
	Status    OutcomeStatus
	Requested int
	Scheduled int
	Reason    UnavailableReason
	Err       error
}

// Success reports whether anything was scheduled.
func (o Outcome) Success() bool {
	return o.Status != OutcomeUnavailable
}

func scheduledOutcome(count int) Outcome {
	return Outcome{Status: OutcomeScheduled, Requested: count, Scheduled: count}
}

func trimmedOutcome(requested, scheduled int) Outcome {
	return Outcome{Status: OutcomeTrimmed, Requested: requested, Scheduled: scheduled}
}

func unavailableOutcome(reason UnavailableReason, err error) Outcome {
	return Outcome{Status: OutcomeUnavailable, Reason: reason, Err: err}
}
