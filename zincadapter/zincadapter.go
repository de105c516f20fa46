package zincadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Accreditor/httpclient"
	"github.com/bartossh/Accreditor/logger"
)

const (
	healthz     = "/healthz"
	documentURN = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
)

// Config contains configuration for logger back-end.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address, empty disables the back-end
	Index   string `yaml:"index"`   // unique index per service to easy search for logs by the service
	Token   string `yaml:"token"`   // basic authorization token, may be left empty
}

// document is the searchable shape of a log in zinc.
// Zinc assigns its own id, so the log id is kept in a separate field.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	LogID     any       `json:"log_id,omitempty"`
	Service   string    `json:"service,omitempty"`
	Level     string    `json:"level,omitempty"`
	Msg       string    `json:"msg"`
}

// ZincClient provides a client that sends logs to the zincsearch backend.
type ZincClient struct {
	url   string
	token string
}

// New creates a new ZincClient, checking that the back-end is healthy.
func New(cfg Config) (ZincClient, error) {
	if err := httpclient.MakeGet(timeout, cfg.Address+healthz, nil); err != nil {
		return ZincClient{}, errors.Join(ErrZincServerNotResponding, err)
	}
	return ZincClient{url: cfg.Address + fmt.Sprintf(documentURN, cfg.Index), token: cfg.Token}, nil
}

// Write satisfies io.Writer abstraction.
// p is expected to be a marshaled logger.Log, any other payload is stored as the message.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	if err := httpclient.MakePostAuth(timeout, z.token, z.url, toDocument(p), nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}

func toDocument(p []byte) document {
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return document{Timestamp: time.Now(), Msg: string(p)}
	}
	return document{Timestamp: l.CreatedAt, LogID: l.ID, Service: l.Service, Level: l.Level, Msg: l.Msg}
}
