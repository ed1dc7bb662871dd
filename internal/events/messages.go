package events

import (
	"encoding/json"
	"time"

	"syba/internal/core"
)

// DeductionAppliedMessage announces that one entity's deduction for
// one month has been applied. Consumers (notification workers) fetch
// details from the store if they need more than this.
type DeductionAppliedMessage struct {
	Kind      string         `json:"kind"` // "card", "loan", "installment"
	EntityID  string         `json:"entity_id"`
	YearMonth core.YearMonth `json:"year_month"`
	AmountKrw int64          `json:"amount_krw"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewDeductionAppliedMessage(kind, entityID string, ym core.YearMonth, amount core.Money) *DeductionAppliedMessage {
	return &DeductionAppliedMessage{
		Kind:      kind,
		EntityID:  entityID,
		YearMonth: ym,
		AmountKrw: amount.Krw,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *DeductionAppliedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DeductionAppliedMessageFromJSON creates a message from JSON bytes.
func DeductionAppliedMessageFromJSON(data []byte) (*DeductionAppliedMessage, error) {
	var msg DeductionAppliedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BalanceClampedMessage warns that a deduction hit the zero floor of
// its linked account and only RequestedKrw-ActualKrw could be taken.
type BalanceClampedMessage struct {
	AssetName    string    `json:"asset_name"`
	RequestedKrw int64     `json:"requested_krw"`
	ActualKrw    int64     `json:"actual_krw"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewBalanceClampedMessage(assetName string, requested, actual core.Money) *BalanceClampedMessage {
	return &BalanceClampedMessage{
		AssetName:    assetName,
		RequestedKrw: requested.Krw,
		ActualKrw:    actual.Krw,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *BalanceClampedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BalanceClampedMessageFromJSON creates a message from JSON bytes.
func BalanceClampedMessageFromJSON(data []byte) (*BalanceClampedMessage, error) {
	var msg BalanceClampedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
