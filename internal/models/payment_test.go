package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIsValidActorTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{ActorStatusNone, ActorStatusNeedsKycData, true},
		{ActorStatusNeedsKycData, ActorStatusReadyForSettlement, true},
		{ActorStatusNone, ActorStatusReadyForSettlement, true},

		// Abort from any live status
		{ActorStatusNone, ActorStatusAbort, true},
		{ActorStatusNeedsKycData, ActorStatusAbort, true},
		{ActorStatusReadyForSettlement, ActorStatusAbort, true},
		{ActorStatusSoftMatch, ActorStatusAbort, true},

		// Soft match parking and resolution
		{ActorStatusNeedsKycData, ActorStatusSoftMatch, true},
		{ActorStatusSoftMatch, ActorStatusReadyForSettlement, true},

		// Never backward
		{ActorStatusReadyForSettlement, ActorStatusNeedsKycData, false},
		{ActorStatusReadyForSettlement, ActorStatusNone, false},
		{ActorStatusNeedsKycData, ActorStatusNone, false},

		// abort is terminal
		{ActorStatusAbort, ActorStatusNone, false},
		{ActorStatusAbort, ActorStatusReadyForSettlement, false},

		// Unknown statuses
		{"nonexistent", ActorStatusNeedsKycData, false},
		{ActorStatusNone, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidActorTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidActorTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestActorStatusAdvances(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{ActorStatusNone, ActorStatusNeedsKycData, true},
		{ActorStatusNeedsKycData, ActorStatusReadyForSettlement, true},
		{ActorStatusNeedsKycData, ActorStatusSoftMatch, true},
		{ActorStatusNone, ActorStatusAbort, true},
		{ActorStatusReadyForSettlement, ActorStatusAbort, true},

		// Replays and regressions never advance
		{ActorStatusNeedsKycData, ActorStatusNeedsKycData, false},
		{ActorStatusReadyForSettlement, ActorStatusNeedsKycData, false},
		{ActorStatusReadyForSettlement, ActorStatusReadyForSettlement, false},
		{ActorStatusSoftMatch, ActorStatusNeedsKycData, false},
		{ActorStatusAbort, ActorStatusAbort, false},
		{ActorStatusAbort, ActorStatusReadyForSettlement, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := ActorStatusAdvances(tt.from, tt.to); got != tt.expected {
				t.Errorf("ActorStatusAdvances(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestAllActorStatusesHaveTransitionEntry(t *testing.T) {
	all := []string{
		ActorStatusNone, ActorStatusNeedsKycData, ActorStatusReadyForSettlement,
		ActorStatusAbort, ActorStatusSoftMatch,
	}
	for _, status := range all {
		if _, ok := ValidActorTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidActorTransitions map", status)
		}
	}
}

func TestPaymentSideHelpers(t *testing.T) {
	p := &Payment{
		MyRole:         RoleSender,
		SenderStatus:   ActorStatusNeedsKycData,
		ReceiverStatus: ActorStatusNone,
	}

	if p.MyStatus() != ActorStatusNeedsKycData {
		t.Errorf("MyStatus() = %q, want %q", p.MyStatus(), ActorStatusNeedsKycData)
	}
	if p.PeerStatus() != ActorStatusNone {
		t.Errorf("PeerStatus() = %q, want %q", p.PeerStatus(), ActorStatusNone)
	}

	p.SetPeerStatus(ActorStatusReadyForSettlement)
	if p.ReceiverStatus != ActorStatusReadyForSettlement {
		t.Errorf("SetPeerStatus did not update receiver, got %q", p.ReceiverStatus)
	}

	p.MyRole = RoleReceiver
	if p.MyStatus() != ActorStatusReadyForSettlement {
		t.Errorf("MyStatus() as receiver = %q, want %q", p.MyStatus(), ActorStatusReadyForSettlement)
	}

	kyc := `{"type":"individual"}`
	p.SetMyKycData(kyc)
	if p.ReceiverKycData == nil || *p.ReceiverKycData != kyc {
		t.Error("SetMyKycData did not set receiver kyc data")
	}
	if p.PeerKycData() != nil {
		t.Error("PeerKycData should be nil for untouched sender side")
	}
}

func TestPaymentExpired(t *testing.T) {
	now := time.Now()
	p := &Payment{
		ReferenceID:       uuid.New(),
		Expiration:        now.Add(-time.Minute),
		TransactionStatus: TxStatusOffChainWait,
	}
	if !p.Expired(now) {
		t.Error("payment past expiration in a live state should be expired")
	}

	p.TransactionStatus = TxStatusCompleted
	if p.Expired(now) {
		t.Error("terminal payment must never report expired")
	}

	p.TransactionStatus = TxStatusOffChainWait
	p.Expiration = now.Add(time.Hour)
	if p.Expired(now) {
		t.Error("payment before expiration should not be expired")
	}
}
