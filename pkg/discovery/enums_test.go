package discovery

import "testing"

func TestServiceType(t *testing.T) {
	tests := []struct {
		st      ServiceType
		str     string
		service string
		valid   bool
	}{
		{ServiceTypeUnknown, "Unknown", "", false},
		{ServiceTypeTCP, "TCP", "_beep._tcp", true},
		{ServiceTypeQUIC, "QUIC", "_beep._udp", true},
		{ServiceType(42), "Unknown", "", false},
	}
	for _, tt := range tests {
		if got := tt.st.String(); got != tt.str {
			t.Errorf("ServiceType(%d).String() = %q, want %q", tt.st, got, tt.str)
		}
		if got := tt.st.ServiceString(); got != tt.service {
			t.Errorf("ServiceType(%d).ServiceString() = %q, want %q", tt.st, got, tt.service)
		}
		if got := tt.st.IsValid(); got != tt.valid {
			t.Errorf("ServiceType(%d).IsValid() = %v, want %v", tt.st, got, tt.valid)
		}
	}
}
