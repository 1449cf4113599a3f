package queue

import (
	"fmt"

	"github.com/rs/zerolog"
)

// zerologAdapter satisfies asynq.Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Debug(args ...any) { a.logger.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Info(args ...any)  { a.logger.Info().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Warn(args ...any)  { a.logger.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Error(args ...any) { a.logger.Error().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Fatal(args ...any) { a.logger.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
