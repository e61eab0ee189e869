package security

import "testing"

func TestSecurityClassString(t *testing.T) {
	tests := []struct {
		class SecurityClass
		want  string
	}{
		{SecurityClassTemporary, "Temporary"},
		{SecurityClassNone, "None"},
		{SecurityClassS2Unauthenticated, "S2_Unauthenticated"},
		{SecurityClassS2Authenticated, "S2_Authenticated"},
		{SecurityClassS2AccessControl, "S2_AccessControl"},
		{SecurityClassS0Legacy, "S0_Legacy"},
		{SecurityClass(5), "SecurityClass(5)"},
	}
	for _, tc := range tests {
		if got := tc.class.String(); got != tc.want {
			t.Errorf("SecurityClass(%d).String() = %q, want %q", int8(tc.class), got, tc.want)
		}
	}
}

func TestSecurityClassValidity(t *testing.T) {
	valid := []SecurityClass{
		SecurityClassS2Unauthenticated,
		SecurityClassS2Authenticated,
		SecurityClassS2AccessControl,
		SecurityClassS0Legacy,
	}
	for _, c := range valid {
		if !c.IsValid() {
			t.Errorf("%s should be valid", c)
		}
	}
	for _, c := range []SecurityClass{SecurityClassNone, SecurityClassTemporary, 3, 8} {
		if c.IsValid() {
			t.Errorf("%s should not be valid", c)
		}
	}
	if SecurityClassS0Legacy.IsS2() {
		t.Error("S0_Legacy reported as S2")
	}
}

func TestSecurityClassTrustOrder(t *testing.T) {
	for i := 1; i < len(SecurityClassesByTrust); i++ {
		hi, lo := SecurityClassesByTrust[i-1], SecurityClassesByTrust[i]
		if hi.Trust() <= lo.Trust() {
			t.Errorf("%s should be trusted more than %s", hi, lo)
		}
	}
	if SecurityClassNone.Trust() >= SecurityClassS0Legacy.Trust() {
		t.Error("None must rank below S0_Legacy")
	}
}

func TestStateStrings(t *testing.T) {
	if SPANStateLocalEI.String() != "LocalEI" || SPANState(9).String() != "Unknown" {
		t.Error("unexpected SPANState strings")
	}
	if MPANStateOutOfSync.String() != "OutOfSync" || MPANState(9).String() != "Unknown" {
		t.Error("unexpected MPANState strings")
	}
}
