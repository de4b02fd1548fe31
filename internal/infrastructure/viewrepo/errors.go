package viewrepo

import "errors"

// errViewNotFound is the cause of a blind update on a view that has no row.
var errViewNotFound = errors.New("view row not found")
