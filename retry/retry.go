package retry

import (
	"context"
	"errors"
	"time"
)

// Policy beschreibt eine Wiederholungsstrategie mit exponentiellem Backoff.
// Jede Quelle bringt ihre eigene Parametrisierung mit (Versuche, Basis- und
// Maximalwartezeit, Wiederholbarkeits-Prädikat).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RetryIf entscheidet, ob ein Fehler einen weiteren Versuch rechtfertigt.
	// nil bedeutet: jeder Fehler wird wiederholt.
	RetryIf func(error) bool
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient markiert err als vorübergehend (Rate-Limit, Timeout, Challenge).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient meldet, ob err als vorübergehend markiert wurde.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Do führt op aus und wiederholt fehlgeschlagene Aufrufe gemäß der Policy.
// Zwischen den Versuchen verdoppelt sich die Wartezeit ausgehend von
// BaseDelay bis höchstens MaxDelay. Ein abgebrochener Context beendet die
// Schleife sofort mit dessen Fehler.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Backoff liefert die Wartezeit nach dem n-ten Fehlversuch (1-basiert).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
