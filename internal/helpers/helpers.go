package helpers

import (
	"errors"

	"pnsync/cipherbox"
	"pnsync/contentstore"
	"pnsync/did"
	"pnsync/docstore"
	"pnsync/resolver"
	"pnsync/syncer"
)

// HumanMessage collapses the error taxonomy into a single message suitable
// for display. Raw gateway errors never reach users.
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}

	var gwErr *contentstore.GatewayError
	var valErr did.ValidationError

	switch {
	case errors.Is(err, syncer.ErrNotInitialized):
		return "Unlock with your password before syncing."
	case errors.Is(err, syncer.ErrRateLimited) || errors.Is(err, resolver.ErrRateLimited):
		return "Too many operations. Wait a minute and try again."
	case errors.Is(err, cipherbox.ErrDecrypt):
		return "Wrong password, or the stored data has been tampered with."
	case errors.Is(err, resolver.ErrNotResolvable):
		return "This identifier could not be resolved."
	case errors.Is(err, syncer.ErrCorrupt):
		return "The synced identity record is corrupt."
	case errors.Is(err, syncer.ErrNotFound) || errors.Is(err, docstore.ErrNotFound):
		return "No identity record found."
	case errors.As(err, &gwErr):
		return "The storage network is unreachable right now."
	case errors.As(err, &valErr):
		return "The identity document is malformed."
	default:
		return "Something went wrong. Try again."
	}
}
