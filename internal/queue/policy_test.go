package queue

import "testing"

func TestNewController(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		limit     int
		wantErr   bool
		wantMax   int
		admitAt   int
		wantAdmit bool
	}{
		{name: "sequential", policy: PolicySequential, wantMax: 1, admitAt: 0, wantAdmit: true},
		{name: "sequential full", policy: PolicySequential, wantMax: 1, admitAt: 1, wantAdmit: false},
		{name: "sequential ignores limit", policy: PolicySequential, limit: 5, wantMax: 1, admitAt: 1, wantAdmit: false},
		{name: "concurrent unlimited", policy: PolicyConcurrent, wantMax: 0, admitAt: 1000, wantAdmit: true},
		{name: "limited", policy: PolicyLimited, limit: 4, wantMax: 4, admitAt: 3, wantAdmit: true},
		{name: "limited full", policy: PolicyLimited, limit: 4, wantMax: 4, admitAt: 4, wantAdmit: false},
		{name: "limited defaults", policy: PolicyLimited, limit: 0, wantMax: DefaultLimit, admitAt: DefaultLimit, wantAdmit: false},
		{name: "limited one", policy: PolicyLimited, limit: 1, wantMax: 1, admitAt: 1, wantAdmit: false},
		{name: "unknown policy", policy: "round-robin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, err := NewController(tt.policy, tt.limit)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ctrl.Policy() != tt.policy {
				t.Errorf("policy = %s", ctrl.Policy())
			}
			if ctrl.MaxActive() != tt.wantMax {
				t.Errorf("max active = %d, want %d", ctrl.MaxActive(), tt.wantMax)
			}
			if got := ctrl.CanAdmit(tt.admitAt); got != tt.wantAdmit {
				t.Errorf("CanAdmit(%d) = %v, want %v", tt.admitAt, got, tt.wantAdmit)
			}
		})
	}
}
