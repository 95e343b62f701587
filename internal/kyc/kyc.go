package kyc

import (
	"context"
	"encoding/json"
)

// Verdict of evaluating a counterparty's kyc payload.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictSoftMatch
	VerdictReject
)

// Checker evaluates the counterparty's kyc data. The production
// implementation calls the external compliance service; the default accepts
// any syntactically valid payload.
type Checker interface {
	Evaluate(ctx context.Context, data json.RawMessage) (Verdict, error)
}

// Provider supplies this wallet's own kyc payload for outbound exchanges.
type Provider interface {
	OwnKycData(ctx context.Context) (json.RawMessage, error)
}

// AcceptAll accepts every syntactically valid kyc object.
type AcceptAll struct{}

func (AcceptAll) Evaluate(_ context.Context, data json.RawMessage) (Verdict, error) {
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		return VerdictReject, err
	}
	return VerdictAccept, nil
}

// StaticProvider returns a fixed kyc payload.
type StaticProvider struct {
	Data json.RawMessage
}

func (p StaticProvider) OwnKycData(context.Context) (json.RawMessage, error) {
	return p.Data, nil
}
