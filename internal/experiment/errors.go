package experiment

import "errors"

var (
	ErrTestNotFound      = errors.New("test not found")
	ErrTestExists        = errors.New("test already exists")
	ErrInvalidDefinition = errors.New("invalid test definition")
	ErrTestNotActive     = errors.New("test is not active")
	ErrNotAssigned       = errors.New("subject is not assigned")
	ErrInvalidSubject    = errors.New("subject id is required")
	ErrConfigConflict    = errors.New("conflicting variant config key")
)
