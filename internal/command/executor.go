package command

import (
	"context"

	"github.com/rs/zerolog"

	"deskcast/internal/types"
)

// LogExecutor is the default CommandExecutor. Execution is wired to an
// external agent in deployments that have one; standalone the server
// just records what the client asked for.
type LogExecutor struct {
	logger zerolog.Logger
}

func NewLogExecutor(logger zerolog.Logger) *LogExecutor {
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) Execute(ctx context.Context, text string, t types.Transport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.logger.Info().Str("command", text).Msg("command received")
	return nil
}
