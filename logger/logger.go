package logger

import (
	"time"
)

// Levels of the Log.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Log is a single entry of the bot log, marshaled to JSON and written to every io.Writer of the logging helper.
// Service names the bot instance so many bots can share a log back-end.
type Log struct {
	ID        any       `json:"_id"        bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Service   string    `json:"service"    bson:"service"`
	Level     string    `json:"level"      bson:"level"`
	Msg       string    `json:"msg"        bson:"msg"`
}

// Logger provides logging methods for debug, info, warning, error and fatal.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
}
