package stdoutwriter

import (
	"encoding/json"

	"github.com/pterm/pterm"

	"github.com/bartossh/Accreditor/logger"
)

// Logger writes marshaled logger.Log to the standard output, coloured by level.
type Logger struct{}

func (l Logger) Write(p []byte) (n int, err error) {
	var log logger.Log
	if err := json.Unmarshal(p, &log); err != nil {
		pterm.Println(string(p))
		return len(p), nil
	}
	msg := log.CreatedAt.Format("2006-01-02 15:04:05.000") + " " + log.Msg
	switch log.Level {
	case logger.LevelDebug:
		pterm.Debug.Println(msg)
	case logger.LevelInfo:
		pterm.Info.Println(msg)
	case logger.LevelWarn:
		pterm.Warning.Println(msg)
	case logger.LevelError:
		pterm.Error.Println(msg)
	case logger.LevelFatal:
		pterm.Fatal.WithFatal(false).Println(msg)
	default:
		pterm.Println(msg)
	}
	return len(p), nil
}
