package errors

import "errors"

var (
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrPlanVersionNotFound    = errors.New("campaign plan version not found")
	ErrInstanceNotFound       = errors.New("campaign instance not found")
	ErrStepInstanceNotFound   = errors.New("step instance not found")
	ErrActionNotFound         = errors.New("scheduled action not found")
	ErrMessageNotFound        = errors.New("outbound message not found")
	ErrInvalidCampaignInput   = errors.New("invalid campaign input")
	ErrInvalidEnrollmentInput = errors.New("invalid enrollment input")
	ErrContactAlreadyEnrolled = errors.New("contact already enrolled in campaign")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStepNotReschedulable   = errors.New("step instance cannot be rescheduled in current state")
	ErrActionNotClaimable     = errors.New("scheduled action is not claimable")
	ErrDuplicateDedupeKey     = errors.New("outbound message dedupe key already exists")
	ErrRateLimited            = errors.New("send rate limit exceeded")
	ErrSuppressed             = errors.New("destination address is suppressed")
)
