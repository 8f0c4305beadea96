package session

import "errors"

// ErrSessionNotFound is returned by Append when (trikID, sessionID) has no
// registered session — the caller is expected to have called Create first.
var ErrSessionNotFound = errors.New("session: not found")
