package rcerr

import (
	"errors"
	"testing"

	"github.com/duskfin/redicore/resp"
)

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		kind, msg string
		want      interface{}
	}{
		{"NOAUTH", "Authentication required.", &AuthError{}},
		{"READONLY", "You can't write against a read only replica.", &ReadOnlyError{}},
		{"LOADING", "Redis is loading the dataset in memory", &BusyLoadingError{}},
		{"NOSCRIPT", "No matching script.", &NoScriptError{}},
		{"EXECABORT", "Transaction discarded.", &ExecAbortError{}},
		{"WRONGTYPE", "Operation against a wrong type", &ResponseError{}},
	}
	for _, c := range cases {
		err := ClassifyReply(resp.ErrorReply(c.kind, c.msg))
		switch c.want.(type) {
		case *AuthError:
			var target *AuthError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *AuthError", c.kind, err)
			}
		case *ReadOnlyError:
			var target *ReadOnlyError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *ReadOnlyError", c.kind, err)
			}
		case *BusyLoadingError:
			var target *BusyLoadingError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *BusyLoadingError", c.kind, err)
			}
		case *NoScriptError:
			var target *NoScriptError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *NoScriptError", c.kind, err)
			}
		case *ExecAbortError:
			var target *ExecAbortError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *ExecAbortError", c.kind, err)
			}
		case *ResponseError:
			var target *ResponseError
			if !errors.As(err, &target) {
				t.Errorf("%s: got %T, want *ResponseError", c.kind, err)
			}
		}
	}
}

func TestTimeoutErrorReportsTimeout(t *testing.T) {
	var e error = &TimeoutError{Cause: errors.New("i/o timeout")}
	var te interface{ Timeout() bool }
	if !errors.As(e, &te) || !te.Timeout() {
		t.Fatal("TimeoutError should report Timeout() == true")
	}
}
