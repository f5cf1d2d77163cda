package domain

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidOrderID      = errors.New("invalid order ID")
	ErrInvalidConsumerID   = errors.New("invalid consumer ID")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidCreationDate = errors.New("creation date out of range")
	ErrInvalidSourceEvent  = errors.New("source event requires aggregate type, aggregate ID and event ID")
	ErrConcurrentUpdate    = errors.New("order was modified concurrently")
	ErrStorageUnavailable  = errors.New("order history storage unavailable")
	ErrInvalidPageToken    = errors.New("invalid page token")
	ErrMalformedEvent      = errors.New("malformed event")
)
