package domain

import "testing"

func TestAgentShareIdentity(t *testing.T) {
	tests := []struct {
		name        string
		finalAmount int64
		platformFee int64
		wantShare   int64
	}{
		{name: "five percent fee", finalAmount: 525, platformFee: 25, wantShare: 500},
		{name: "round amounts", finalAmount: 1050, platformFee: 50, wantShare: 1000},
		{name: "zero fee", finalAmount: 300, platformFee: 0, wantShare: 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payment{FinalAmount: tt.finalAmount, PlatformFee: tt.platformFee}
			share := p.AgentShare()
			if share != tt.wantShare {
				t.Fatalf("AgentShare() = %d, want %d", share, tt.wantShare)
			}
			if p.PlatformFee+share != p.FinalAmount {
				t.Fatalf("platform_fee + agent_share = %d, want final_amount %d", p.PlatformFee+share, p.FinalAmount)
			}
		})
	}
}

func TestCancellationSplit(t *testing.T) {
	tests := []struct {
		name        string
		totalAmount int64
		finePercent int64
		wantRefund  int64
		wantFine    int64
	}{
		{name: "ten percent fine", totalAmount: 1000, finePercent: 10, wantRefund: 900, wantFine: 100},
		{name: "rounds fine down", totalAmount: 999, finePercent: 10, wantRefund: 900, wantFine: 99},
		{name: "zero fine", totalAmount: 500, finePercent: 0, wantRefund: 500, wantFine: 0},
		{name: "full fine", totalAmount: 500, finePercent: 100, wantRefund: 0, wantFine: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refund, fine := CancellationSplit(tt.totalAmount, tt.finePercent)
			if refund != tt.wantRefund || fine != tt.wantFine {
				t.Fatalf("CancellationSplit(%d, %d) = (%d, %d), want (%d, %d)",
					tt.totalAmount, tt.finePercent, refund, fine, tt.wantRefund, tt.wantFine)
			}
			if refund+fine != tt.totalAmount {
				t.Fatalf("refund + fine = %d, want total %d", refund+fine, tt.totalAmount)
			}
		})
	}
}
