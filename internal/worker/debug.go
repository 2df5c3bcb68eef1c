package worker

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("AISECRETARY_WORKER_DEBUG"), "1")

func debugLog(log zerolog.Logger, format string, args ...interface{}) {
	if workerDebugEnabled {
		log.Info().Msgf(format, args...)
	}
}
