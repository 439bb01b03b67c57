package alerts

import "errors"

// ErrCatalogUnavailable wraps read and parse failures of the catalog file.
var ErrCatalogUnavailable = errors.New("alerts: catalog unavailable")
