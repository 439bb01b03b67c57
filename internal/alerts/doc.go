// Package alerts turns the controller's raw alert string into operator labels.
//
// The controller reports active alerts as a ";"-separated list of numeric
// codes, e.g. "1;12". Codes are zero-padded to four digits and resolved
// against a JSON catalog shipped with the installation:
//
//	[{"Id": "0001", "Code": "High milk temperature"}, ...]
//
// The catalog is re-read on every call to FileCatalog.Load so an operator can
// edit it without restarting the service.
package alerts
