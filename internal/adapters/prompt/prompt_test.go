package prompt

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"да\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
		{"maybe\n", false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := New(strings.NewReader(tc.input), &out).Confirm("Обновить курсор?")
		if err != nil {
			t.Fatalf("%q: не ожидали ошибку: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("%q: ожидали %v, получили %v", tc.input, tc.want, got)
		}
		if !strings.HasPrefix(out.String(), "Обновить курсор? [y/N]: ") {
			t.Fatalf("неожиданный вопрос: %q", out.String())
		}
	}
}

func TestAlways(t *testing.T) {
	ok, err := Always{}.Confirm("?")
	if !ok || err != nil {
		t.Fatalf("Always = %v, %v", ok, err)
	}
}
