package natsclient

import (
	"context"
	"errors"
	"time"

	"github.com/bartossh/Accreditor/transaction"
)

// Publisher provides functionality to push messages to the pub/sub queue
type Publisher struct {
	*socket
}

// PublisherConnect connects publisher to the pub/sub queue using provided config
func PublisherConnect(cfg Config) (*Publisher, error) {
	var p Publisher
	var err error
	p.socket, err = connect(cfg)
	return &p, err
}

// PublishAttestation publishes the accredited transaction so the attestor can post the attestation.
func (p *Publisher) PublishAttestation(trx *transaction.Transaction) error {
	msg, err := encodeAttestation(trx)
	if err != nil {
		return err
	}
	return p.conn.Publish(PubSubAttestation, msg)
}

// PublishNotification publishes the admin notification.
func (p *Publisher) PublishNotification(subject, detail string) error {
	msg, err := encodeNotification(subject, detail, time.Now())
	if err != nil {
		return err
	}
	return p.conn.Publish(PubSubAdminNotification, msg)
}

// PublishPayment publishes the payment, the wallet side of the payments subject.
func (p *Publisher) PublishPayment(payment *transaction.Payment) error {
	msg, err := encodePayment(payment)
	if err != nil {
		return err
	}
	return p.conn.Publish(PubSubPayments, msg)
}

// RequestReceivingAddress asks the wallet to allocate a receiving address for the device and user address pair.
func (p *Publisher) RequestReceivingAddress(ctx context.Context, deviceAddress, userAddress string) (string, error) {
	req, err := encodeAddressRequest(deviceAddress, userAddress)
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	reply, err := p.conn.RequestWithContext(ctx, RequestReceivingAddress, req)
	if err != nil {
		return "", errors.Join(errors.New("receiving address request failed"), err)
	}
	return decodeAddressReply(reply.Data)
}
