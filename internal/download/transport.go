package download

import (
	"context"
	"io"
)

// Request describes one transfer handed to the transport.
type Request struct {
	URI          string
	Title        string
	AllowMetered bool
	AllowRoaming bool
}

// CompletedInfo is what the transport knows about a finished transfer.
type CompletedInfo struct {
	Handle     string
	URI        string
	Successful bool
	ErrorCode  int
}

// Transport is the external download service. Enqueue is fire-and-forget:
// it returns an opaque handle and the transfer proceeds in the background;
// the transport owner reports completion out of band. QueryStatus and
// OpenPayload are only meaningful once a completion for the handle has been
// reported. Cancel also serves as removal of a finished transfer's spool.
type Transport interface {
	Enqueue(ctx context.Context, req Request) (string, error)
	QueryStatus(ctx context.Context, handle string) (*CompletedInfo, error)
	OpenPayload(ctx context.Context, handle string) (io.ReadCloser, error)
	Cancel(ctx context.Context, handle string) error
}
