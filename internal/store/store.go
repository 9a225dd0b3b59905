// Package store provides page data services for tactic boards: in memory,
// SQLite and a remote HTTP API.
package store

import "errors"

var (
	ErrBoardNotFound = errors.New("tactic board not found")
	ErrPageNotFound  = errors.New("tactic page not found")
)
