package logic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFinite is wrapped by ParseError for NaN and infinite values.
var ErrNotFinite = errors.New("value is not finite")

// ParseError reports a parameter payload that could not be parsed.
// The stored parameters are left unchanged.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse parameter %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseValue parses a decimal parameter payload. Surrounding whitespace is
// ignored and a decimal comma is accepted in place of a decimal point, so
// "21,5" and "21.5" yield the same value.
func ParseValue(s string) (float64, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &ParseError{Input: s, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Input: s, Err: ErrNotFinite}
	}
	return v, nil
}

// ParameterStore holds the live transfer function coefficients.
// Updates replace the whole pair, and Snapshot never observes a pair
// mixing fields from two different updates.
type ParameterStore struct {
	mu      sync.RWMutex
	params  Params
	updates int
}

// NewParameterStore creates a store holding initial.
func NewParameterStore(initial Params) *ParameterStore {
	return &ParameterStore{params: initial}
}

// Snapshot returns the current coefficient pair.
func (s *ParameterStore) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Updates returns the number of accepted updates since creation.
func (s *ParameterStore) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

// SetSlope replaces the slope.
func (s *ParameterStore) SetSlope(v float64) {
	s.mu.Lock()
	s.params = Params{Slope: v, Offset: s.params.Offset}
	s.updates++
	s.mu.Unlock()
}

// SetOffset replaces the offset.
func (s *ParameterStore) SetOffset(v float64) {
	s.mu.Lock()
	s.params = Params{Slope: s.params.Slope, Offset: v}
	s.updates++
	s.mu.Unlock()
}

// UpdateSlope parses payload and stores it as the slope.
// On a *ParseError the store is unchanged.
func (s *ParameterStore) UpdateSlope(payload string) (float64, error) {
	v, err := ParseValue(payload)
	if err != nil {
		return 0, err
	}
	s.SetSlope(v)
	return v, nil
}

// UpdateOffset parses payload and stores it as the offset.
// On a *ParseError the store is unchanged.
func (s *ParameterStore) UpdateOffset(payload string) (float64, error) {
	v, err := ParseValue(payload)
	if err != nil {
		return 0, err
	}
	s.SetOffset(v)
	return v, nil
}
