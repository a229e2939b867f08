// Package paramstore defines the configuration parameter store
// collaborator (§6) and the backend-availability view built on top of it
// (C5), grounded on the original backend_manager module.
package paramstore

import "context"

// Store is the opaque named-parameter config store collaborator.
type Store interface {
	GetParameter(ctx context.Context, name string) (string, error)
}
