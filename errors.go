package jda

import "errors"

var (
	// ErrConfigMismatch is returned when a checkpoint was trained with a different
	// stage count, units per stage, landmark count or tree depth.
	ErrConfigMismatch = errors.New("jda: checkpoint configuration does not match the model")
	// ErrFormat is returned when a model stream is truncated or malformed.
	ErrFormat = errors.New("jda: malformed model")
	// ErrNoCheckpoint is returned when there is no checkpoint to resume from.
	ErrNoCheckpoint = errors.New("jda: checkpoint not found")
	// ErrIncomplete is returned when detecting with a model whose training is not finished.
	ErrIncomplete = errors.New("jda: model is not completely trained")
	// ErrTrained is returned when training a model which is already complete.
	ErrTrained = errors.New("jda: model is already trained")
	// ErrCursor is returned when a training cursor does not describe the model state.
	ErrCursor = errors.New("jda: training cursor does not match the model")
)
