// Package fault defines the error taxonomy shared by the profile engine, the
// scheduler and the role synchronization client. Callers branch on the Kind
// of an error rather than on concrete error types.
package fault

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindProfileComposition
	KindUsage
	KindDependencyInstallation
	KindTransientExecution
	KindPeerSynchronizationTimeout
	KindNotSupported
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:                    "Unknown",
	KindProfileComposition:         "ProfileCompositionError",
	KindUsage:                      "UsageError",
	KindDependencyInstallation:     "DependencyInstallationError",
	KindTransientExecution:         "TransientExecutionError",
	KindPeerSynchronizationTimeout: "PeerSynchronizationTimeout",
	KindNotSupported:               "NotSupported",
	KindInvalidInput:               "InvalidInput",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Reasons give finer detail within a kind. They are free-form but the engine
// uses the constants below.
const (
	ReasonProfileNotFound           = "ProfileNotFound"
	ReasonSchemaValidation          = "SchemaValidationFailed"
	ReasonContradictoryProfiles     = "ContradictoryProfiles"
	ReasonInvalidParameterCondition = "InvalidParameterCondition"
	ReasonInvalidProfileReference   = "InvalidProfileReference"
	ReasonConflictingDirectives     = "ConflictingDirectives"
	ReasonUnknownComponentType      = "UnknownComponentType"
	ReasonPlatformNotSupported      = "PlatformNotSupported"
	ReasonApiStatePollingTimeout    = "ApiStatePollingTimeout"
	ReasonProcessFailed             = "ProcessFailed"
	ReasonInvalidStateKey           = "InvalidStateKey"
)

// Error is a classified error. Category, Scenario and Op identify the
// component and the operation that failed when the error came out of
// component execution.
type Error struct {
	Kind     Kind
	Reason   string
	Category string
	Scenario string
	Op       string
	err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Reason != "" {
		sb.WriteString(" (" + e.Reason + ")")
	}
	if e.Scenario != "" || e.Category != "" {
		fmt.Fprintf(&sb, " [%s %q", strings.ToLower(e.Category), e.Scenario)
		if e.Op != "" {
			sb.WriteString(" " + e.Op)
		}
		sb.WriteString("]")
	}
	if e.err != nil {
		sb.WriteString(": " + e.err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.err
}

// New creates a classified error with a formatted message.
func New(kind Kind, reason string, format string, args ...any) error {
	return &Error{Kind: kind, Reason: reason, err: errors.Errorf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, reason string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: reason, err: errors.Wrapf(err, format, args...)}
}

// WithComponent attaches component context to err. When err is already a
// classified error without component context, the context is added to a copy
// of it; otherwise err is wrapped with KindUnknown.
func WithComponent(err error, category, scenario, op string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Scenario == "" && fe.Category == "" {
		cp := *fe
		cp.Category, cp.Scenario, cp.Op = category, scenario, op
		return &cp
	}
	return &Error{Kind: KindOf(err), Category: category, Scenario: scenario, Op: op, err: err}
}

// Reclassify returns err as kind, keeping its reason and component context.
func Reclassify(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe == err {
		cp := *fe
		cp.Kind = kind
		return &cp
	}
	return &Error{Kind: kind, err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the reason of the outermost classified error in the chain.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
