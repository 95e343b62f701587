package offchain

import (
	"encoding/json"

	"github.com/diem-vasp/wallet-backend/internal/models"
)

// PaymentToObject renders a stored payment as the shared wire object.
func PaymentToObject(p *models.Payment) PaymentObject {
	obj := PaymentObject{
		ReferenceID: p.ReferenceID.String(),
		Sender: PaymentActorObject{
			Address:           p.SenderAddress,
			Status:            StatusObject{Status: p.SenderStatus},
			KycData:           rawKyc(p.SenderKycData),
			AdditionalKycData: p.SenderAdditionalKycData,
		},
		Receiver: PaymentActorObject{
			Address:           p.ReceiverAddress,
			Status:            StatusObject{Status: p.ReceiverStatus},
			KycData:           rawKyc(p.ReceiverKycData),
			AdditionalKycData: p.ReceiverAdditionalKycData,
		},
		Action: PaymentActionObject{
			Amount:     p.Amount,
			Currency:   p.Currency,
			Action:     p.Action,
			Timestamp:  p.CreatedAt.Unix(),
			ValidUntil: p.Expiration.Unix(),
		},
		RecipientSignature: p.RecipientSignature,
		Description:        p.Description,
	}
	if p.OriginalPaymentReferenceID != nil {
		s := p.OriginalPaymentReferenceID.String()
		obj.OriginalPaymentReferenceID = &s
	}
	return obj
}

// PaymentCommandBody builds the signed command payload for an outbound
// payment mutation.
func PaymentCommandBody(p *models.Payment) (json.RawMessage, error) {
	return json.Marshal(PaymentCommandObject{
		ObjectType: ObjectTypePaymentCommand,
		Payment:    PaymentToObject(p),
	})
}

// PaymentInfo renders the receiver-side view answered to GetInfoCommand and
// GetPaymentInfo.
func PaymentInfo(p *models.Payment) PaymentInfoObject {
	obj := PaymentToObject(p)
	return PaymentInfoObject{
		ObjectType:  ObjectTypePaymentInfo,
		ReferenceID: obj.ReferenceID,
		Receiver:    obj.Receiver,
		Action:      obj.Action,
		Description: obj.Description,
	}
}

// FPPAToObject renders a stored pre-approval as the wire object.
func FPPAToObject(a *models.FundsPullPreApproval) FPPAObject {
	obj := FPPAObject{
		FundsPullPreApprovalID: a.FundsPullPreApprovalID.String(),
		Address:                a.PayerAddress,
		BillerAddress:          a.BillerAddress,
		Scope: FPPAScopeObject{
			Type:                a.Scope.Type,
			ExpirationTimestamp: a.Scope.ExpirationTimestamp,
		},
		Description: a.Description,
		Status:      a.Status,
	}
	if a.Scope.MaxCumulativeAmount != nil {
		obj.Scope.MaxCumulativeAmount = &FPPACumulativeObject{
			Unit:  a.Scope.MaxCumulativeAmount.Unit,
			Value: a.Scope.MaxCumulativeAmount.Value,
			MaxAmount: CurrencyObject{
				Amount:   a.Scope.MaxCumulativeAmount.MaxAmount.Amount,
				Currency: a.Scope.MaxCumulativeAmount.MaxAmount.Currency,
			},
		}
	}
	if a.Scope.MaxTransactionAmount != nil {
		obj.Scope.MaxTransactionAmount = &CurrencyObject{
			Amount:   a.Scope.MaxTransactionAmount.Amount,
			Currency: a.Scope.MaxTransactionAmount.Currency,
		}
	}
	return obj
}

func rawKyc(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}

func kycString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
