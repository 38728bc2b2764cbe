package producer

import "errors"

var (
	// ErrUnavailable is returned when a producer source cannot be reached or has no data
	ErrUnavailable = errors.New("producer unavailable")

	// ErrMalformed is returned when a producer document cannot be decoded
	ErrMalformed = errors.New("malformed producer document")

	// ErrUnsupportedVersion is returned for documents with an unknown schema_version
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// ErrStaleDocument is returned when a document is older than the configured max data age
	ErrStaleDocument = errors.New("producer document too old")

	// ErrUnknownKind is returned when a producer kind has no decoder
	ErrUnknownKind = errors.New("unknown producer kind")

	// ErrUnknownSource is returned when a source type is not file, http or nats
	ErrUnknownSource = errors.New("unknown producer source")
)
