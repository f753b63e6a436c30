// ABOUTME: Error kinds shared by every pipeline stage
// ABOUTME: Wrap with fmt.Errorf("%w: ...") and test with errors.Is
package models

import "errors"

var (
	// ErrInput marks bad caller input such as a missing or ambiguous document selection
	ErrInput = errors.New("input error")
	// ErrExternalService marks a failed remote call: parser job, LLM endpoint, encoder worker
	ErrExternalService = errors.New("external service error")
	// ErrParse marks a response whose shape did not match what was expected
	ErrParse = errors.New("parse error")
	// ErrConfig marks missing or invalid configuration
	ErrConfig = errors.New("config error")
)

// ErrNoSelection is the message shown when a chat starts without exactly one paper
const ErrNoSelection = "Please select a single paper to start the chat."
