package lookup

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolookup/internal/normalize"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// ErrResolutionFailed is matched by errors.Is when a lookup could not be
// resolved and no lower-confidence fallback was available. Quota refusals
// and invalid input do not match it.
var ErrResolutionFailed = eris.New("lookup: resolution failed")

// ResolveError reports the stage a resolution stopped at together with the
// quota state at that moment.
type ResolveError struct {
	Stage      Stage
	Key        string
	QuotaUsed  int
	QuotaLimit int
	Err        error
}

func (e *ResolveError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("lookup: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("lookup: resolve %q at %s (quota %d/%d): %v",
		e.Key, e.Stage, e.QuotaUsed, e.QuotaLimit, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrResolutionFailed) hold for failures other than
// quota refusal and invalid input.
func (e *ResolveError) Is(target error) bool {
	if target != ErrResolutionFailed {
		return false
	}
	return !errors.Is(e.Err, geocode.ErrQuotaExceeded) && !errors.Is(e.Err, normalize.ErrInvalidInput)
}
