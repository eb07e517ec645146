package abac

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

const moviesPolicy = `{
	"id": "0b7a8c2e-4f5b-4d77-9a53-2d1f7ef0a001",
	"effect": "allow",
	"description": "Registered users\n   may read   films",
	"subjects": [{"is_user": {"rule_type": "Truthy"}}],
	"resources": [{"path": {"rule_type": "StrStartsWith", "value": "/api/v1/films", "case_sensitive": true}}],
	"actions": [{"rule_type": "Eq", "value": "GET"}],
	"context": {"ip": {"rule_type": "CIDR", "cidr": "10.0.0.0/8"}}
}`

func TestDecodePolicy(t *testing.T) {
	p, err := DecodePolicy([]byte(moviesPolicy))
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}
	if p.ID != uuid.MustParse("0b7a8c2e-4f5b-4d77-9a53-2d1f7ef0a001") {
		t.Fatalf("unexpected id %s", p.ID)
	}
	if !p.AllowAccess() {
		t.Fatalf("expected allow effect")
	}
	if len(p.Subjects) != 1 || p.Subjects[0].Attrs["is_user"] == nil {
		t.Fatalf("subjects not decoded as attribute map: %+v", p.Subjects)
	}
	if len(p.Actions) != 1 || p.Actions[0].Rule == nil || p.Actions[0].Rule.Type() != TypeEq {
		t.Fatalf("actions not decoded as bare rule: %+v", p.Actions)
	}
	if p.Context["ip"] == nil || p.Context["ip"].Type() != TypeCIDR {
		t.Fatalf("context not decoded: %+v", p.Context)
	}
}

func TestDecodePolicyDefaults(t *testing.T) {
	p, err := DecodePolicy([]byte(`{"description": "nothing"}`))
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}
	if p.Effect != EffectDeny {
		t.Fatalf("expected default deny, got %q", p.Effect)
	}
	if p.ID != uuid.Nil || len(p.Subjects) != 0 || len(p.Context) != 0 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestDecodePolicyRejects(t *testing.T) {
	cases := map[string]string{
		"no description":  `{"effect": "allow"}`,
		"bad effect":      `{"effect": "maybe", "description": "x"}`,
		"bad target rule": `{"description": "x", "actions": [{"rule_type": "Nope"}]}`,
		"bad attr rule":   `{"description": "x", "subjects": [{"name": {"value": 1}}]}`,
		"target scalar":   `{"description": "x", "resources": ["GET"]}`,
		"bad context":     `{"description": "x", "context": {"ip": {"rule_type": "CIDR"}}}`,
		"not json":        `{"description":`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePolicy([]byte(doc)); !errors.Is(err, ErrBadPolicy) {
				t.Fatalf("expected ErrBadPolicy, got %v", err)
			}
		})
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	p, err := DecodePolicy([]byte(moviesPolicy))
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Policy
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal %s: %v", data, err)
	}
	again, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("round trip changed policy:\n%s\n%s", data, again)
	}
}

func TestDescribePolicies(t *testing.T) {
	p, err := DecodePolicy([]byte(moviesPolicy))
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}
	anon := Policy{Description: "second"}
	got := DescribePolicies([]Policy{p, anon})
	want := "[id: 0b7a8c2e-4f5b-4d77-9a53-2d1f7ef0a001, description: Registered users may read films, id: None, description: second]"
	if got != want {
		t.Fatalf("DescribePolicies=%q, want %q", got, want)
	}
	if DescribePolicies(nil) != "[]" {
		t.Fatalf("empty description list")
	}
}
