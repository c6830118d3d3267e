package interfaces

import "github.com/m-mizutani/goerr/v2"

// Errors shared by every repository backend
var (
	ErrNotFound          = goerr.New("not found")
	ErrStatusConflict    = goerr.New("status does not match expected value")
	ErrCaseInActiveBatch = goerr.New("case is already a member of an active batch")
	ErrAttemptCompleted  = goerr.New("attempt is already completed")
	ErrAlreadyExists     = goerr.New("already exists")
)
