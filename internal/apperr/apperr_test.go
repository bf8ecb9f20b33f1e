package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOfWalksChains(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeChainRejected, "settlement rejected", cause)

	wrapped := fmt.Errorf("submit: %w", err)
	if got := CodeOf(wrapped); got != CodeChainRejected {
		t.Fatalf("code = %q", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("cause lost from chain")
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("uncoded error produced code %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	plain := New(CodeNotQueued, "utxo is not waiting in a queue")
	if plain.Error() != "NotQueued: utxo is not waiting in a queue" {
		t.Fatalf("message = %q", plain.Error())
	}

	withCause := Wrap(CodeTimeout, "round expired", errors.New("deadline"))
	if withCause.Error() != "Timeout: round expired: deadline" {
		t.Fatalf("message = %q", withCause.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeAlreadyQueued:       http.StatusConflict,
		CodeDuplicateSubmission: http.StatusConflict,
		CodeNotQueued:           http.StatusNotFound,
		CodeRoomNotFound:        http.StatusNotFound,
		CodeInvalidCredential:   http.StatusUnauthorized,
		CodeRoundClosed:         http.StatusGone,
		CodeTimeout:             http.StatusGone,
		CodeChainRejected:       http.StatusBadGateway,
		Code("Unknown"):         http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}
