// Package transfer tracks file-transfer progress per session.
//
// Backends drive a Reporter while copying; it publishes eventProgress
// records on the bus. The Tracker consumes those records and keeps one list
// per session, keyed by transfer ID.
package transfer

// Transfer directions.
const (
	TypeUpload   = "upload"
	TypeDownload = "download"
)

// Record is the eventProgress payload and the tracked state of a transfer.
type Record struct {
	ID           string  `json:"ID"`
	SessionID    string  `json:"SessionID"`
	TransferType string  `json:"TransferType"`
	LocalFile    string  `json:"LocalFile"`
	RemoteFile   string  `json:"RemoteFile"`
	TotalSize    int64   `json:"TotalSize"`
	Rate         float64 `json:"Rate"`
	Done         bool    `json:"Done"`
	Error        string  `json:"Error"`
}

// Failed reports whether the transfer finished with an error.
func (r Record) Failed() bool {
	return r.Done && r.Error != ""
}
