package indexer

import (
	"context"
	"log/slog"

	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// DLQSubject is where permanently-failed items land after both bulk and
// single-item store attempts are exhausted.
const DLQSubject = "sigil.etl.dlq"

// dlqMessage is the payload published to DLQSubject.
type dlqMessage struct {
	Message canon.Message `json:"message"`
	Error   string        `json:"error"`
}

// NewNATSDLQ builds a Deps.DLQ callback that publishes permanently
// failed items to DLQSubject, mirroring the dead-letter shape used
// elsewhere in this codebase's messaging layer.
func NewNATSDLQ(nc *nats.Conn, log *slog.Logger) func(ctx context.Context, msg canon.Message, cause error) {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, msg canon.Message, cause error) {
		errText := "unknown error"
		if cause != nil {
			errText = cause.Error()
		}
		if err := natsutil.Publish(ctx, nc, DLQSubject, dlqMessage{Message: msg, Error: errText}); err != nil {
			log.Error("indexer: DLQ publish failed", "error", err, "messageId", msg.ID)
		}
	}
}
