package recovery

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/lexfront/connkit/errors"
)

// Class is the coarse category of an observed error.
type Class int

const (
	// ClassNone is returned for nil and cancelled errors; nothing happens.
	ClassNone Class = iota
	ClassTransient
	ClassConfiguration
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassConfiguration:
		return "configuration"
	case ClassFatal:
		return "fatal"
	default:
		return "none"
	}
}

// MarshalText renders the class name in JSON.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Scopes used by DefaultClassifier.
const (
	ScopeTransport = "transport"
	ScopeModule    = "module"
	ScopeClient    = "client"
	ScopeDefault   = "default"
)

// Classification is the result of classifying one error.
type Classification struct {
	Class Class
	Scope string
}

// Classifier decides how an error is handled.
type Classifier interface {
	Classify(err error) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Classification

func (f ClassifierFunc) Classify(err error) Classification { return f(err) }

// DefaultClassifier classifies by AppError code:
//   - structural codes are configuration issues,
//   - retryable codes are transient, scoped by Details["scope"] or the code,
//   - net.Error and deadline errors are transient transport errors,
//   - anything else is fatal.
func DefaultClassifier() Classifier {
	return ClassifierFunc(classify)
}

func classify(err error) Classification {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return Classification{Class: ClassNone}
	}

	if appErr, ok := errors.AsAppError(err); ok {
		switch {
		case errors.IsStructuralCode(appErr.Code):
			return Classification{Class: ClassConfiguration, Scope: scopeOf(appErr)}
		case appErr.Retryable:
			return Classification{Class: ClassTransient, Scope: scopeOf(appErr)}
		}
		if appErr.Cause == nil {
			return Classification{Class: ClassFatal, Scope: scopeOf(appErr)}
		}
		// An internal wrapper may still carry a transient cause.
		if inner := classify(appErr.Cause); inner.Class == ClassTransient {
			return inner
		}
		return Classification{Class: ClassFatal, Scope: scopeOf(appErr)}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassTransient, Scope: ScopeTransport}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Classification{Class: ClassTransient, Scope: ScopeTransport}
	}
	return Classification{Class: ClassFatal, Scope: ScopeDefault}
}

func scopeOf(e *errors.AppError) string {
	if s := e.Detail("scope"); s != "" {
		return s
	}
	switch e.Code {
	case errors.ErrCodeTransport, errors.ErrCodeMaxReconnectAttempts:
		return ScopeTransport
	case errors.ErrCodeLoaderTier:
		return ScopeModule
	case errors.ErrCodeClientConstruction:
		return ScopeClient
	default:
		return ScopeDefault
	}
}
