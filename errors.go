package tiercache

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindBackend
	KindSerialization
	KindFactory
	KindAnalyticsDisabled
)

var (
	ErrValidation = errors.New("tiercache: invalid argument")
	ErrBackend    = errors.New("tiercache: cache backend failure")
	// ErrSerialization is a backend failure caused by the stored bytes.
	// errors.Is(err, ErrBackend) also holds for it.
	ErrSerialization     = errors.New("tiercache: serialization failure")
	ErrFactory           = errors.New("tiercache: value factory failed")
	ErrAnalyticsDisabled = errors.New("tiercache: analytics disabled")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	case KindSerialization:
		return "serialization"
	case KindFactory:
		return "factory"
	case KindAnalyticsDisabled:
		return "analytics_disabled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindBackend:
		return ErrBackend
	case KindSerialization:
		return ErrSerialization
	case KindFactory:
		return ErrFactory
	case KindAnalyticsDisabled:
		return ErrAnalyticsDisabled
	}
	return nil
}

// OpError describes a failed cache operation on one key.
type OpError struct {
	Op   string // "get", "set", "remove", "factory", "key"
	Key  string
	Tier Tier
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("tiercache: %s (%s tier): %s: %v", e.Op, e.Tier, e.Kind, e.Err)
	}
	return fmt.Sprintf("tiercache: %s %q (%s tier): %s: %v", e.Op, e.Key, e.Tier, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *OpError) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == e.Kind.sentinel() {
		return true
	}
	return target == ErrBackend && e.Kind == KindSerialization
}

// RemoveError reports which tier(s) failed during Remove. The tiers are
// removed independently, so one may have succeeded.
type RemoveError struct {
	Key       string
	LocalErr  error
	RemoteErr error
}

func (e *RemoveError) Error() string {
	switch {
	case e.LocalErr != nil && e.RemoteErr != nil:
		return fmt.Sprintf("tiercache: remove %q failed on both tiers: local=%v; remote=%v",
			e.Key, e.LocalErr, e.RemoteErr)
	case e.LocalErr != nil:
		return fmt.Sprintf("tiercache: remove %q: local: %v", e.Key, e.LocalErr)
	case e.RemoteErr != nil:
		return fmt.Sprintf("tiercache: remove %q: remote: %v", e.Key, e.RemoteErr)
	default:
		return fmt.Sprintf("tiercache: remove %q: unknown error", e.Key)
	}
}

func (e *RemoveError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.LocalErr != nil {
		errs = append(errs, e.LocalErr)
	}
	if e.RemoteErr != nil {
		errs = append(errs, e.RemoteErr)
	}
	return errs
}
