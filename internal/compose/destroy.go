package compose

import (
	"context"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

// cleanup deletes the queued messages of a destroyed space. Every deletion
// is attempted on its own; one connection per mail account is opened on
// first use and all of them are closed before returning.
func (r *Registry) cleanup(ctx context.Context, s *ActiveSpace) {
	paths := s.drainCleanup()
	if len(paths) == 0 {
		return
	}
	if r.connector == nil {
		logger.ErrorContext(ctx, "No mail connector to clean up composition space",
			slog.String("space_id", s.ID().String()),
			slog.Int("pending", len(paths)),
		)
		return
	}

	conns := make(map[int]mailaccess.Connection)
	unreachable := make(map[int]bool)
	defer func() {
		for accountID, conn := range conns {
			if err := conn.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close mail connection",
					slog.Int("mail_account", accountID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	for _, path := range paths {
		conn, ok := conns[path.AccountID]
		if !ok {
			if unreachable[path.AccountID] {
				continue
			}
			var err error
			conn, err = r.connector.Connect(ctx, path.AccountID)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to connect to mail account for cleanup",
					slog.String("space_id", s.ID().String()),
					slog.Int("mail_account", path.AccountID),
					slog.String("error", err.Error()),
				)
				unreachable[path.AccountID] = true
				continue
			}
			conns[path.AccountID] = conn
		}

		if err := conn.DeleteMessage(ctx, path); err != nil {
			logger.ErrorContext(ctx, "Failed to delete message during cleanup",
				slog.String("space_id", s.ID().String()),
				slog.String("path", path.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
