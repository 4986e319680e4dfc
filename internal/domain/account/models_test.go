package account

import (
	"errors"
	"testing"
)

func TestIsValidAccountType(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"depository", true},
		{"credit", true},
		{"investment", true},
		{"DEPOSITORY", false},
		{"INVALID", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsValidAccountType(tt.input)
			if got != tt.want {
				t.Errorf("IsValidAccountType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"USD", true},
		{"EUR", true},
		{"usd", false},
		{"US", false},
		{"XXX", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsValidCurrency(tt.input)
			if got != tt.want {
				t.Errorf("IsValidCurrency(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCreateParams_Validate(t *testing.T) {
	valid := CreateParams{ID: "a1", ItemID: 1, UserID: 3, Name: "Checking", Type: "depository", Currency: "USD"}

	tests := []struct {
		name    string
		mutate  func(p *CreateParams)
		wantErr error
	}{
		{name: "valid", mutate: func(p *CreateParams) {}},
		{name: "missing id", mutate: func(p *CreateParams) { p.ID = "" }, wantErr: errAny},
		{name: "missing item", mutate: func(p *CreateParams) { p.ItemID = 0 }, wantErr: errAny},
		{name: "missing user", mutate: func(p *CreateParams) { p.UserID = 0 }, wantErr: errAny},
		{name: "missing name", mutate: func(p *CreateParams) { p.Name = "" }, wantErr: errAny},
		{name: "bad type", mutate: func(p *CreateParams) { p.Type = "crypto" }, wantErr: ErrInvalidAccountType},
		{name: "bad currency", mutate: func(p *CreateParams) { p.Currency = "ZZZ" }, wantErr: ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("Validate() error = %v, want nil", err)
			case tt.wantErr == errAny && err == nil:
				t.Error("Validate() error = nil, want error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")
