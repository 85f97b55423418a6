package errors

import "errors"

var (
	ErrDeliveryNotFound  = errors.New("webhook delivery not found")
	ErrUnknownProvider   = errors.New("unknown webhook provider")
	ErrMalformedPayload  = errors.New("webhook payload could not be normalized")
	ErrDeliveryNotFailed = errors.New("webhook delivery is not replayable")
	ErrOutboxConflict    = errors.New("outbox row already exists with different payload")
)
