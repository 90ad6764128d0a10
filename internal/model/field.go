package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldState distinguishes the three ways a result field can be filled.
type FieldState uint8

const (
	// StateNotEvaluated means the owning analyzer did not run or its
	// precondition failed. It is the zero value.
	StateNotEvaluated FieldState = iota
	// StateAbsent means the analyzer ran and confirmed the thing is missing.
	StateAbsent
	// StatePresent means the analyzer ran and recorded a concrete value,
	// which may itself be zero or false.
	StatePresent
)

func (s FieldState) String() string {
	switch s {
	case StateNotEvaluated:
		return "not-evaluated"
	case StateAbsent:
		return "absent"
	case StatePresent:
		return "present"
	default:
		return fmt.Sprintf("FieldState(%d)", uint8(s))
	}
}

// Field is a tri-state result value: not evaluated, evaluated-but-absent, or
// a concrete value.
//
// JSON representation: a concrete value encodes as itself, Absent encodes as
// null, and NotEvaluated reports IsZero so that struct fields tagged
// `omitzero` drop the key entirely. Decoding reverses this (a missing key
// leaves the zero value, NotEvaluated).
type Field[T any] struct {
	state FieldState
	value T
}

// Of returns a present field holding v.
func Of[T any](v T) Field[T] {
	return Field[T]{state: StatePresent, value: v}
}

// Absent returns a field recording that the analyzer confirmed absence.
func Absent[T any]() Field[T] {
	return Field[T]{state: StateAbsent}
}

// NotEvaluated returns the zero field. It exists for readability at call
// sites that reset a group.
func NotEvaluated[T any]() Field[T] {
	return Field[T]{}
}

// OfPtr maps nil to Absent and non-nil to a present value.
func OfPtr[T any](v *T) Field[T] {
	if v == nil {
		return Absent[T]()
	}
	return Of(*v)
}

func (f Field[T]) State() FieldState { return f.state }

// Get returns the value and whether one is present.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == StatePresent
}

// OrElse returns the value when present, def otherwise.
func (f Field[T]) OrElse(def T) T {
	if f.state == StatePresent {
		return f.value
	}
	return def
}

func (f Field[T]) Evaluated() bool { return f.state != StateNotEvaluated }
func (f Field[T]) IsAbsent() bool  { return f.state == StateAbsent }
func (f Field[T]) IsPresent() bool { return f.state == StatePresent }

// IsZero reports whether the field was never evaluated. encoding/json uses it
// for the omitzero option.
func (f Field[T]) IsZero() bool { return f.state == StateNotEvaluated }

func (f Field[T]) String() string {
	switch f.state {
	case StatePresent:
		return fmt.Sprintf("%v", f.value)
	case StateAbsent:
		return "<absent>"
	default:
		return "<not evaluated>"
	}
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != StatePresent {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		f.state, f.value = StateAbsent, zero
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.state, f.value = StatePresent, v
	return nil
}
