package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
)

func validInput() RegisterInput {
	buildingID := uuid.New()
	return RegisterInput{
		Email:      "alice@acme.test",
		Phone:      "+2348011112222",
		Password:   "Pa55w0rd!",
		Role:       RoleResident,
		BuildingID: &buildingID,
		Apartment:  "4B",
	}
}

func TestValidateRegisterInput_Valid(t *testing.T) {
	if err := validateRegisterInput(validInput()); err != nil {
		t.Fatalf("validateRegisterInput(valid) = %v", err)
	}
}

func TestValidateRegisterInput_Password(t *testing.T) {
	cases := []struct {
		name     string
		password string
	}{
		{"too short", "Pa5!"},
		{"no upper", "pa55w0rd!"},
		{"no lower", "PA55W0RD!"},
		{"no digit", "Password!"},
		{"no symbol", "Passw0rdX"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			in.Password = tc.password
			err := validateRegisterInput(in)
			if !errs.Is(err, "WeakPassword") {
				t.Errorf("password %q: err = %v, want WeakPassword", tc.password, err)
			}
		})
	}
}

func TestValidateRegisterInput_FieldErrors(t *testing.T) {
	t.Run("bad email", func(t *testing.T) {
		in := validInput()
		in.Email = "not-an-email"
		if err := validateRegisterInput(in); errs.CodeOf(err) != errs.Validation {
			t.Errorf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("bad phone", func(t *testing.T) {
		in := validInput()
		in.Phone = "08011112222" // missing +country
		if err := validateRegisterInput(in); errs.CodeOf(err) != errs.Validation {
			t.Errorf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		in := validInput()
		in.Role = "janitor"
		if err := validateRegisterInput(in); !errs.Is(err, "InvalidRole") {
			t.Errorf("err = %v, want InvalidRole", err)
		}
	})

	t.Run("resident without apartment", func(t *testing.T) {
		in := validInput()
		in.Apartment = ""
		if err := validateRegisterInput(in); errs.CodeOf(err) != errs.Validation {
			t.Errorf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("non super_admin without building", func(t *testing.T) {
		in := validInput()
		in.Role = RoleSecurity
		in.BuildingID = nil
		if err := validateRegisterInput(in); errs.CodeOf(err) != errs.Validation {
			t.Errorf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("super_admin without building", func(t *testing.T) {
		in := validInput()
		in.Role = RoleSuperAdmin
		in.BuildingID = nil
		in.Apartment = ""
		if err := validateRegisterInput(in); err != nil {
			t.Errorf("super_admin without building should be valid, got %v", err)
		}
	})
}

func TestApprove_RequiresApproveCapability(t *testing.T) {
	svc := NewService(nil, nil, Config{})

	for _, role := range []Role{RoleResident, RoleSecurity, RoleVisitor} {
		p := &Principal{UserID: uuid.New(), Role: role}
		_, err := svc.Approve(context.Background(), p, uuid.New())
		if errs.CodeOf(err) != errs.Authz {
			t.Errorf("Approve as %s: err = %v, want AUTHORIZATION", role, err)
		}
	}
}

func TestNewToken(t *testing.T) {
	plain, hash, err := newToken()
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	// 32 random bytes in unpadded URL-safe base64.
	if len(plain) != 43 {
		t.Errorf("plaintext length = %d, want 43", len(plain))
	}
	if hash != hashToken(plain) {
		t.Error("returned hash does not match hashToken(plaintext)")
	}

	plain2, _, err := newToken()
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	if plain == plain2 {
		t.Error("two tokens should never collide")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if hashToken("abc") != hashToken("abc") {
		t.Error("hashToken must be deterministic")
	}
	if hashToken("abc") == hashToken("abd") {
		t.Error("distinct tokens must hash differently")
	}
	// sha256 hex
	if len(hashToken("abc")) != 64 {
		t.Errorf("hash length = %d, want 64", len(hashToken("abc")))
	}
}
