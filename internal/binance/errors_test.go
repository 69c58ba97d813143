package binance

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"disconnected code", &APIError{HTTPStatus: 400, Code: -1001}, true},
		{"too many requests code", &APIError{HTTPStatus: 400, Code: -1003}, true},
		{"timeout code", &APIError{HTTPStatus: 400, Code: -1007}, true},
		{"http 429", &APIError{HTTPStatus: 429, Code: -1100}, true},
		{"http 418 ban", &APIError{HTTPStatus: 418, Code: -1100}, true},
		{"http 503", &APIError{HTTPStatus: 503, Code: -1100}, true},
		{"transport failure", &transportError{op: "do request", err: errors.New("dial tcp: timeout")}, true},
		{"wrapped transport failure", fmt.Errorf("get ticker: %w", &transportError{op: "do", err: errors.New("eof")}), true},
		{"would trigger immediately", &APIError{HTTPStatus: 400, Code: CodeOrderWouldTriggerImmediately}, false},
		{"margin insufficient", &APIError{HTTPStatus: 400, Code: CodeMarginInsufficient}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsBusiness(t *testing.T) {
	if !IsBusiness(&APIError{HTTPStatus: 400, Code: CodeOrderWouldTriggerImmediately}) {
		t.Error("-2021 should be a business error")
	}
	if !IsBusiness(fmt.Errorf("create order: %w", &APIError{HTTPStatus: 400, Code: CodeMarginInsufficient})) {
		t.Error("wrapped -2019 should be a business error")
	}
	if IsBusiness(&APIError{HTTPStatus: 500, Code: -1000}) {
		t.Error("5xx should not be a business error")
	}
	if IsBusiness(errors.New("boom")) {
		t.Error("plain errors are not business errors")
	}
}

func TestBusinessCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", &APIError{Code: CodeReduceOnlyRejected})
	if got := BusinessCode(err); got != CodeReduceOnlyRejected {
		t.Errorf("BusinessCode = %d, want %d", got, CodeReduceOnlyRejected)
	}
	if got := BusinessCode(errors.New("boom")); got != 0 {
		t.Errorf("BusinessCode of plain error = %d, want 0", got)
	}
}
