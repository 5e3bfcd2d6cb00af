// Package position abstracts the device location stream. The platform
// GPS adapter and the simulator both implement Source; consumers own
// exactly one subscription at a time and release it via the returned
// cancel function.
package position

import "dodanati/models"

// Source is a push stream of position fixes. Fixes have no guaranteed
// cadence; consumers must tolerate gaps and jitter.
type Source interface {
	// Subscribe registers a new listener. The cancel function detaches
	// it; after cancel returns no further fix is delivered and the
	// channel is closed.
	Subscribe() (<-chan models.PositionFix, func())
}
