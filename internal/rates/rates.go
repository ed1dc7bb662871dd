// Package rates supplies the BTC/KRW exchange rate used to value
// pending installment obligations in sats. Historical lump-sum records
// carry their own rate and never go through here.
package rates

import "context"

// Provider returns the current BTC price in KRW per whole bitcoin.
type Provider interface {
	Current(ctx context.Context) (int64, error)
}

// Fixed is a Provider pinned to a configured rate, used when the app
// runs offline or the user enters the price manually.
type Fixed struct {
	BtcKrw int64
}

func (f Fixed) Current(_ context.Context) (int64, error) {
	return f.BtcKrw, nil
}
