// Package logger initializes the process-wide zerolog logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global zerolog logger to JSON-on-stdout with a timestamp
// and applies level, parsed with zerolog's own ParseLevel rather than a
// hand-rolled string switch. config.Load never rejects an unrecognized
// log_level value (it is cosmetic, not structural) so Init must tolerate
// one too: a bad string logs a warning naming what was configured and
// falls back to info instead of aborting startup.
func Init(level string) {
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("configured_level", level).Msg("unrecognized log level, defaulting to info")
		log.Info().Msgf("logger initialized with level: %s", zerolog.InfoLevel.String())
		return
	}

	zerolog.SetGlobalLevel(parsed)
	log.Info().Msgf("logger initialized with level: %s", parsed.String())
}
