package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out float64
		ok  bool
	}{
		{"1", 1, true},
		{"1200.50", 1200.5, true},
		{"  300 ", 300, true},
		{"\t42\n", 42, true},
		{"-12.25", -12.25, true},
		{"0", 0, true},
		{"1e3", 1000, true},
		{"", 0, false},
		{"   ", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"12,50", 0, false},
		{"+5", 5, true},
		{".5", 0.5, true},
		{"1_0", 0, false},
		{"1_000.5", 0, false},
		{"0x1p4", 0, false},
		{"0X10", 0, false},
		{"-0x1.8p1", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %v", tc.in, got)
		}
	}
}

func TestLooseFloat(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{`12.5`, 12.5},
		{`"12.5"`, 12.5},
		{`" 12.5 "`, 12.5},
		{`-3`, -3},
		{`"-3"`, -3},
		{`null`, 0},
		{`true`, 0},
		{`"n/a"`, 0},
		{`""`, 0},
		{`{"x":1}`, 0},
		{`[1]`, 0},
		{``, 0},
	}
	for _, tc := range cases {
		if got := LooseFloat(json.RawMessage(tc.raw)); got != tc.want {
			t.Errorf("LooseFloat(%s) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestLooseInt(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`4`, 4},
		{`"4"`, 4},
		{`" 11 "`, 11},
		{`4.9`, 4},
		{`"x"`, 0},
		{`1e12`, 0},
	}
	for _, tc := range cases {
		if got := LooseInt(json.RawMessage(tc.raw)); got != tc.want {
			t.Errorf("LooseInt(%s) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestAmountAndCountNeverFail(t *testing.T) {
	var v struct {
		Total Amount `json:"total"`
		Month Count  `json:"month"`
	}
	if err := json.Unmarshal([]byte(`{"total":"oops","month":"3"}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Total != 0 || v.Month != 3 {
		t.Fatalf("got total=%v month=%v", v.Total, v.Month)
	}
}
