package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUiParse              = errors.New("ui tree could not be parsed")
	ErrMalformedResult      = errors.New("no JSON object in model reply")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrNoLocator            = errors.New("no locator available")
	ErrInvalidLocator       = errors.New("invalid locator")
	ErrMissingPayload       = errors.New("missing payload")
	ErrProviderRequest      = errors.New("provider request failed")
	ErrContentFiltered      = errors.New("provider withheld content")
	ErrInvalidSampling      = errors.New("invalid sampling parameter")
)

// StepError is returned by every failed resolution. It keeps the instruction
// and the raw model reply so a failing step can be diagnosed from the log alone.
type StepError struct {
	Kind        error
	Instruction string
	RawReply    string
	Detail      string
	Err         error
}

func (e *StepError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	fmt.Fprintf(&sb, " (instruction: %q", e.Instruction)
	if e.RawReply != "" {
		fmt.Fprintf(&sb, ", reply: %q", e.RawReply)
	}
	sb.WriteString(")")
	return sb.String()
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewStepError(kind error, instruction, rawReply, detail string, err error) *StepError {
	return &StepError{
		Kind:        kind,
		Instruction: instruction,
		RawReply:    rawReply,
		Detail:      detail,
		Err:         err,
	}
}
