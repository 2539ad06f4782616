package editor

import (
	"errors"
)

// User-facing validation and failure messages.
const (
	MsgEnterPrompt       = "Enter a prompt"
	MsgNoImage           = "No image selected"
	MsgSelectLayer       = "Select a layer to edit"
	MsgEnterEditPrompt   = "Enter an edit prompt"
	MsgNotAnImage        = "Unsupported image file"
	MsgGenerationFailed  = "Generation failed"
	MsgDecomposeFailed   = "Deconstruction failed"
	MsgEditFailed        = "Edit failed"
	MsgStylizeFailed     = "Stylize failed"
	MsgActionFailure     = "Action failure"
	MsgModelEjected      = "Model ejected"
	MsgEditApplied       = "Edit applied"
	MsgGenerating        = "Generating image..."
	MsgDecomposing       = "Decomposing image..."
	MsgEditing           = "Editing layer..."
	MsgStylizing         = "Stylizing image..."
	healthOfflineMessage = "VRAM: offline"
)

// ValidationError is an input check that failed before any request was
// sent. Message is shown on the status bar as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrSuperseded is returned when a newer action reset the layer stack
// while this one was in flight; its result was discarded.
var ErrSuperseded = errors.New("editor: result superseded by a newer action")
