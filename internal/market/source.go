package market

import (
	"context"
	"errors"
)

// ErrIgnored marks a well-formed frame that carries no bar (subscription
// acks, other event types). Decoders return it so callers can skip the frame
// without counting a parse failure.
var ErrIgnored = errors.New("frame ignored")

// Source opens streaming connections for a set of instruments.
type Source interface {
	Connect(ctx context.Context, instruments []string) (Stream, error)
}

// Stream is one live connection. Recv blocks until a frame arrives or the
// connection fails; any error ends the stream and callers reconnect.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}

// Decoder turns one raw frame into a normalized bar update.
type Decoder func(payload []byte) (BarEvent, error)
