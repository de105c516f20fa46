package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/transaction"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	socket
}

// SubscriberConnect connects subscriber to the pub/sub queue using provided config
func SubscriberConnect(cfg Config) (Subscriber, error) {
	var s Subscriber
	sc, err := connect(cfg)
	if err != nil {
		return s, err
	}
	s.socket = *sc
	return s, nil
}

// SubscribePayments calls call for every valid payment published on the payments subject.
// Malformed payloads are logged and dropped.
func (s *Subscriber) SubscribePayments(call func(p *transaction.Payment), log logger.Logger) error {
	_, err := s.conn.Subscribe(PubSubPayments, func(msg *nats.Msg) {
		p, err := decodePayment(msg.Data)
		if err != nil {
			log.Error(fmt.Sprintf("nats subscriber, payment dropped: %s", err))
			return
		}
		call(&p)
	})
	return err
}

// ServeReceivingAddresses answers receiving address requests with addresses produced by allocate.
func (s *Subscriber) ServeReceivingAddresses(allocate func(deviceAddress, userAddress string) (string, error), log logger.Logger) error {
	_, err := s.conn.Subscribe(RequestReceivingAddress, func(msg *nats.Msg) {
		fields, err := unmarshal(msg.Data)
		if err != nil {
			log.Error(fmt.Sprintf("nats subscriber, receiving address request dropped: %s", err))
			return
		}
		device, _ := fields["device_address"].(string)
		user, _ := fields["user_address"].(string)

		reply := map[string]any{}
		addr, err := allocate(device, user)
		if err != nil {
			reply["error"] = err.Error()
		} else {
			reply["receiving_address"] = addr
		}
		raw, err := marshal(reply)
		if err != nil {
			log.Error(fmt.Sprintf("nats subscriber, receiving address reply failed: %s", err))
			return
		}
		if err := msg.Respond(raw); err != nil {
			log.Error(fmt.Sprintf("nats subscriber, receiving address respond failed: %s", err))
		}
	})
	return err
}
