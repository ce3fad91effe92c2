package core

import (
	"encoding/json"
	"testing"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", -100, true},
		{"0", 0, true},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}{Cents(123456), Cents(-5)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":1234.56,"b":-0.05}` {
		t.Fatalf("unexpected encoding %s", b)
	}

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":12.5,"b":"7,25"}`), &in); err != nil {
		t.Fatal(err)
	}
	if in.A.Cents != 1250 || in.B.Cents != 725 {
		t.Fatalf("unexpected decode %+v", in)
	}
}

func TestMoneyArithmetic(t *testing.T) {
	m := Cents(1000).Sub(Cents(1500)).Add(Cents(1))
	if m.Cents != -499 {
		t.Fatalf("expected -499, got %d", m.Cents)
	}
	if m.String() != "-4.99" {
		t.Fatalf("expected -4.99, got %s", m.String())
	}
}
