package rendertask

import (
	"errors"
)

// Terminal failure causes for a render task run. Compare with
// errorsx.Cause(err); cancellation is deliberately its own value so callers
// can tell "stopped on request" apart from a genuine error.
var (
	ErrCanceled               = errors.New("rendering canceled")
	ErrImageAllocationFail    = errors.New("could not allocate the output image")
	ErrImageSaveFail          = errors.New("could not save the output image")
	ErrImageUnsupportedFormat = errors.New("output format not supported")
)

// MillimetersPerInch converts output pixels at a given DPI into the physical
// page units the page device is sized in. Fixed by geospatial convention.
const MillimetersPerInch = 25.4
