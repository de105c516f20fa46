package logging

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bartossh/Accreditor/logger"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread, except for fatal logs
// that are written synchronously before callOnFatal is invoked.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	service     string
	writers     []io.Writer
}

// New creates new Helper.
// The service name is attached to every log so logs of many bots can share one back-end.
func New(service string, callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, service: service, writers: writers}
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(h.log(logger.LevelDebug, msg))
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(h.log(logger.LevelInfo, msg))
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(h.log(logger.LevelWarn, msg))
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(h.log(logger.LevelError, msg))
}

// Fatal writes fatal log and calls the fatal callback.
func (h Helper) Fatal(msg string) {
	h.writeNow(h.log(logger.LevelFatal, msg))
	if h.callOnFatal != nil {
		h.callOnFatal(errors.New(msg))
	}
}

func (h Helper) log(level, msg string) *logger.Log {
	return &logger.Log{
		ID:        primitive.NewObjectID(),
		Service:   h.service,
		Level:     level,
		Msg:       msg,
		CreatedAt: time.Now(),
	}
}

func (h Helper) write(l *logger.Log) {
	go h.writeNow(l)
}

func (h Helper) writeNow(l *logger.Log) {
	raw, err := json.Marshal(l)
	if err != nil {
		h.onErr(err)
		return
	}
	for _, w := range h.writers {
		if _, err := w.Write(raw); err != nil {
			h.onErr(err)
		}
	}
}

func (h Helper) onErr(err error) {
	if h.callOnErr != nil {
		h.callOnErr(err)
	}
}
