// Package coerce converts free-text numeric input, as typed into an edit
// form, into validated numbers. Parsing never fails: invalid input degrades
// to a per-field default so editing can continue uninterrupted.
package coerce

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is the set of value types a Field can hold.
type Number interface {
	~int | ~float64
}

// Policy turns raw text into a value. prev is the value held before the
// edit. The boolean reports whether the result should replace prev.
type Policy[T Number] func(text string, prev T) (T, bool)

// Field pairs the text a user typed with the last validated value it
// produced. Present is false until a value has been supplied, either by
// extraction or by an accepted edit.
type Field[T Number] struct {
	Text    string `json:"text"`
	Value   T      `json:"value"`
	Present bool   `json:"present"`
}

// NewField returns a present field holding v.
func NewField[T Number](v T) Field[T] {
	return Field[T]{Text: fmt.Sprint(v), Value: v, Present: true}
}

// Set records text and updates the value according to policy.
func (f *Field[T]) Set(text string, policy Policy[T]) {
	f.Text = text
	if v, ok := policy(text, f.Value); ok {
		f.Value = v
		f.Present = true
	}
}

// Ptr returns the value, or nil when no value is present.
func (f Field[T]) Ptr() *T {
	if !f.Present {
		return nil
	}
	v := f.Value
	return &v
}

// Amount parses a price, tax amount or total. Blank or unparsable input
// yields 0.
func Amount(text string, _ float64) (float64, bool) {
	f, ok := parse(text)
	if !ok {
		return 0, true
	}
	return f, true
}

// Quantity parses an item count. Fractions are truncated; blank,
// unparsable or non-positive input yields 1.
func Quantity(text string, _ int) (int, bool) {
	f, ok := parse(text)
	if !ok {
		return 1, true
	}
	n := int(math.Trunc(f))
	if n < 1 {
		return 1, true
	}
	return n, true
}

// Rating parses a 1-10 quality rating. Input outside that range or
// unparsable input is rejected and prev is kept.
func Rating(text string, prev int) (int, bool) {
	f, ok := parse(text)
	if !ok || f < 1 || f > 10 {
		return prev, false
	}
	return int(math.Round(f)), true
}

func parse(text string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
