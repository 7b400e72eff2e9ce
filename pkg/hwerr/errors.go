// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hwerr defines the error types shared by the loader, the registry
// and the hardware objects. Callers branch on these with errors.As, so every
// type carries the identifiers (role, document, class) needed to act on it.
package hwerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigurationError is returned when a document is syntactically or
// structurally invalid. Loading the document is aborted.
type ConfigurationError struct {
	Err      error
	Document string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration %s: %s: %v", e.Document, e.Reason, e.Err)
	}

	return fmt.Sprintf("invalid configuration %s: %s", e.Document, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err with the offending document and reason.
func NewConfigurationError(document, reason string, err error) error {
	return &ConfigurationError{Document: document, Reason: reason, Err: err}
}

// UnresolvedReferenceError is returned when a reference names neither a role
// registered so far nor a loadable document.
type UnresolvedReferenceError struct {
	Reference string
	Document  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %q in %s", e.Reference, e.Document)
}

// DuplicateRoleError is returned when two documents claim the same role.
// FirstDocument is the one that registered the role first.
type DuplicateRoleError struct {
	Role          string
	Document      string
	FirstDocument string
}

func (e *DuplicateRoleError) Error() string {
	return fmt.Sprintf("role %q in %s already registered by %s", e.Role, e.Document, e.FirstDocument)
}

// UnknownTypeError is returned when a document names a class no factory is
// registered for. Document is empty when the lookup happened outside a
// document context.
type UnknownTypeError struct {
	Class    string
	Document string
}

func (e *UnknownTypeError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("unknown hardware object class %q", e.Class)
	}

	return fmt.Sprintf("unknown hardware object class %q in %s", e.Class, e.Document)
}

// CyclicReferenceError is returned when following references leads back to a
// document that is still being loaded. Chain holds the documents in load
// order, ending with the repeated one.
type CyclicReferenceError struct {
	Chain []string
}

func (e *CyclicReferenceError) Error() string {
	return "cyclic reference: " + strings.Join(e.Chain, " -> ")
}

// TimeoutError is returned when an operation did not finish within its
// deadline. It is distinct from FaultError: the object may still be healthy,
// it was just slow.
type TimeoutError struct {
	Role    string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Role, e.Op, e.Timeout)
}

// FaultError is returned when an object entered FAULT or OFF while a caller
// was waiting on it. Waiting any longer would never succeed.
type FaultError struct {
	Role  string
	State string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s entered %s", e.Role, e.State)
}

// CommunicationError is returned when a channel read or write against the
// control system fails.
type CommunicationError struct {
	Err     error
	Role    string
	Channel string
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s: channel %s: %v", e.Role, e.Channel, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// InvalidValueError is returned when a requested value fails validation,
// typically because it lies outside the actuator limits.
type InvalidValueError struct {
	Value  any
	Role   string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: invalid value %v: %s", e.Role, e.Value, e.Reason)
}

// ReadOnlyError is returned when a set-value is attempted on a read-only
// actuator.
type ReadOnlyError struct {
	Role string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s is read-only", e.Role)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError

	return errors.As(err, &ce)
}

// IsUnresolvedReference reports whether err is or wraps an UnresolvedReferenceError.
func IsUnresolvedReference(err error) bool {
	var ue *UnresolvedReferenceError

	return errors.As(err, &ue)
}

// IsDuplicateRole reports whether err is or wraps a DuplicateRoleError.
func IsDuplicateRole(err error) bool {
	var de *DuplicateRoleError

	return errors.As(err, &de)
}

// IsUnknownType reports whether err is or wraps an UnknownTypeError.
func IsUnknownType(err error) bool {
	var ue *UnknownTypeError

	return errors.As(err, &ue)
}

// IsCyclicReference reports whether err is or wraps a CyclicReferenceError.
func IsCyclicReference(err error) bool {
	var ce *CyclicReferenceError

	return errors.As(err, &ce)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError

	return errors.As(err, &te)
}

// IsFault reports whether err is or wraps a FaultError.
func IsFault(err error) bool {
	var fe *FaultError

	return errors.As(err, &fe)
}

// IsCommunication reports whether err is or wraps a CommunicationError.
func IsCommunication(err error) bool {
	var ce *CommunicationError

	return errors.As(err, &ce)
}

// IsInvalidValue reports whether err is or wraps an InvalidValueError.
func IsInvalidValue(err error) bool {
	var ie *InvalidValueError

	return errors.As(err, &ie)
}

// IsReadOnly reports whether err is or wraps a ReadOnlyError.
func IsReadOnly(err error) bool {
	var re *ReadOnlyError

	return errors.As(err, &re)
}
