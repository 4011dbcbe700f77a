package protocol

import (
	"errors"
	"testing"
)

func TestAuthResponseSuccess(t *testing.T) {
	tests := []struct {
		id   int32
		want bool
	}{
		{-1, false},
		{0, true},
		{1, true},
		{666, true},
		{-2, true},
	}
	for _, tt := range tests {
		r := AuthResponse{ID: tt.id, Type: ResponseAuth}
		if got := r.Success(); got != tt.want {
			t.Fatalf("AuthResponse{ID: %d}.Success() = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	resp, err := Classify(Packet{ID: 3, Type: ResponseAuth})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(AuthResponse); !ok {
		t.Fatalf("expected AuthResponse, got %T", resp)
	}

	resp, err = Classify(Packet{ID: 4, Type: ResponseValue, Body: "pong"})
	if err != nil {
		t.Fatal(err)
	}
	cr, ok := resp.(CommandResponse)
	if !ok {
		t.Fatalf("expected CommandResponse, got %T", resp)
	}
	if cr.ResponseID() != 4 || cr.ResponseBody() != "pong" || cr.ResponseType() != ResponseValue {
		t.Fatalf("fields not copied: %+v", cr)
	}
}

func TestClassifyUnsupported(t *testing.T) {
	_, err := Classify(Packet{ID: 1, Type: ResponseType(9)})
	if !errors.Is(err, ErrUnsupportedResponseType) {
		t.Fatalf("expected ErrUnsupportedResponseType, got %v", err)
	}
}

func TestCommandResponseWithBodyCopies(t *testing.T) {
	base := CommandResponse{ID: 1, Type: ResponseValue, Body: "a"}
	joined := base.WithBody("ab")
	if base.Body != "a" || joined.Body != "ab" || joined.ID != 1 {
		t.Fatalf("WithBody mutated or lost fields: base=%+v joined=%+v", base, joined)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &Error{Kind: KindReadTimeout})
	if KindOf(wrapped) != KindReadTimeout {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain error should be KindUnknown")
	}
	if !errors.Is(NewError(KindConnectionClosed, "", nil), ErrConnectionClosed) {
		t.Fatal("sentinel should match same kind")
	}
	if errors.Is(NewError(KindConnectionClosed, "", nil), ErrReadTimeout) {
		t.Fatal("sentinel should not match other kinds")
	}
}

func TestTypeNames(t *testing.T) {
	if ResponseAuth.String() != "SERVERDATA_AUTH_RESPONSE" {
		t.Fatalf("unexpected name %q", ResponseAuth.String())
	}
	if RequestExecCommand.String() != "SERVERDATA_EXECCOMMAND" {
		t.Fatalf("unexpected name %q", RequestExecCommand.String())
	}
	if RequestType(9).String() != "RequestType(9)" {
		t.Fatalf("unexpected name %q", RequestType(9).String())
	}
}
