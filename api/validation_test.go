package api

import "testing"

func TestPasswordRule(t *testing.T) {
	type form struct {
		Password string `validate:"password"`
	}
	tests := []struct {
		password string
		valid    bool
	}{
		{"Passw0rd!", true},
		{"Abcdef1?", true},
		{"password1!", false},
		{"PASSWORD1!", false},
		{"Password!!", false},
		{"Password12", false},
		{"Pa0!", false},
		{"Pass w0rd!", false},
		{"Passw0rd!Passw0rd!Passw0rd!", false},
	}

	for _, tt := range tests {
		errs := ValidateRequest(form{Password: tt.password})
		if got := errs == nil; got != tt.valid {
			t.Errorf("password %q: valid=%v, want %v (%+v)", tt.password, got, tt.valid, errs)
		}
	}
}
