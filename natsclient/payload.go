package natsclient

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bartossh/Accreditor/transaction"
)

func marshal(fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Join(ErrWrongPayload, err)
	}
	return proto.Marshal(st)
}

func unmarshal(raw []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, errors.Join(ErrWrongPayload, err)
	}
	return st.AsMap(), nil
}

func encodeAttestation(trx *transaction.Transaction) ([]byte, error) {
	return marshal(map[string]any{
		"transaction_id": float64(trx.ID),
		"device_address": trx.DeviceAddress,
		"user_address":   trx.UserAddress,
		"vi_user_id":     trx.VIUserID,
		"vi_vr_id":       trx.VIVerificationRequestID,
		"vi_vr_status":   trx.VIVerificationRequestStatus,
	})
}

func encodeNotification(subject, detail string, at time.Time) ([]byte, error) {
	return marshal(map[string]any{
		"subject":    subject,
		"detail":     detail,
		"created_at": at.UTC().Format(time.RFC3339),
	})
}

func encodePayment(p *transaction.Payment) ([]byte, error) {
	return marshal(map[string]any{
		"receiving_address": p.ReceivingAddress,
		"author_address":    p.AuthorAddress,
		"unit":              p.Unit,
		"amount":            float64(p.Amount),
		"is_confirmed":      p.IsConfirmed,
		"is_single_author":  p.IsSingleAuthor,
	})
}

func decodePayment(raw []byte) (transaction.Payment, error) {
	m, err := unmarshal(raw)
	if err != nil {
		return transaction.Payment{}, err
	}
	var p transaction.Payment
	var ok bool
	if p.ReceivingAddress, ok = m["receiving_address"].(string); !ok || p.ReceivingAddress == "" {
		return transaction.Payment{}, errors.Join(ErrWrongPayload, errors.New("missing receiving_address"))
	}
	if p.Unit, ok = m["unit"].(string); !ok || p.Unit == "" {
		return transaction.Payment{}, errors.Join(ErrWrongPayload, errors.New("missing unit"))
	}
	amount, ok := m["amount"].(float64)
	if !ok || amount < 0 {
		return transaction.Payment{}, errors.Join(ErrWrongPayload, fmt.Errorf("wrong amount %v", m["amount"]))
	}
	p.Amount = int64(amount)
	p.AuthorAddress, _ = m["author_address"].(string)
	p.IsConfirmed, _ = m["is_confirmed"].(bool)
	p.IsSingleAuthor, _ = m["is_single_author"].(bool)
	return p, nil
}

func encodeAddressRequest(deviceAddress, userAddress string) ([]byte, error) {
	return marshal(map[string]any{
		"device_address": deviceAddress,
		"user_address":   userAddress,
	})
}

func decodeAddressReply(raw []byte) (string, error) {
	m, err := unmarshal(raw)
	if err != nil {
		return "", err
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return "", errors.New(msg)
	}
	addr, _ := m["receiving_address"].(string)
	if addr == "" {
		return "", ErrEmptyAddress
	}
	return addr, nil
}
