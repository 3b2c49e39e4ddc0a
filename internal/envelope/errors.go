package envelope

import "errors"

var (
	// ErrNotAddressed marks the benign case: the event is not decryptable by
	// the local identity (not addressed to it). Expected at high volume.
	ErrNotAddressed = errors.New("envelope: event not addressed to local identity")

	// ErrMalformed marks structurally broken input: missing recipient tags,
	// bad inner JSON, wrong inner kind.
	ErrMalformed = errors.New("envelope: malformed event")

	// ErrAmbiguousRecipient is returned for legacy events carrying more than
	// one recipient tag. The scheme has no multi-recipient delivery, so the
	// ambiguity cannot be resolved safely.
	ErrAmbiguousRecipient = errors.New("envelope: ambiguous recipient")

	// ErrAuthorMismatch marks tampering: the seal author differs from the
	// author embedded in the rumor, or the seal signature fails.
	ErrAuthorMismatch = errors.New("envelope: envelope author mismatch")

	// ErrUnsupportedKind is returned for event kinds this package does not
	// handle.
	ErrUnsupportedKind = errors.New("envelope: unsupported event kind")
)

// IsBenign reports whether an unwrap error is the expected not-for-us case
// that callers should log at debug level and skip.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNotAddressed)
}

// IsTamper reports whether an unwrap error indicates integrity failure that
// deserves a warning-level log.
func IsTamper(err error) bool {
	return errors.Is(err, ErrAuthorMismatch)
}
