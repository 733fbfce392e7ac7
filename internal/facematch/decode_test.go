package facematch

import (
	"errors"
	"fmt"
	"testing"
)

func TestDecodeWellFormedRecord(t *testing.T) {
	raw := `{"verified":true,"matchScore":0.85,"confidence":"HIGH","livenessCheck":true}`

	outcome, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !outcome.Verified {
		t.Fatal("expected verified=true")
	}
	if outcome.MatchScore != 0.85 {
		t.Fatalf("expected matchScore 0.85, got %v", outcome.MatchScore)
	}
	if outcome.Confidence != ConfidenceHigh {
		t.Fatalf("expected HIGH confidence, got %s", outcome.Confidence)
	}
	if !outcome.LivenessPassed {
		t.Fatal("expected livenessPassed=true")
	}
	if outcome.Message == "" {
		t.Fatal("expected message to be populated")
	}
}

func TestDecodeKeepsVerifierMessage(t *testing.T) {
	raw := `{"verified":false,"matchScore":0.2,"confidence":"LOW","livenessCheck":false,"message":"faces do not match"}`

	outcome, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if outcome.Message != "faces do not match" {
		t.Fatalf("unexpected message: %q", outcome.Message)
	}
}

func TestDecodeRejectsMissingMatchScore(t *testing.T) {
	raw := `{"verified":true,"confidence":"HIGH","livenessCheck":true}`

	if _, err := Decode(raw); !isMalformed(err) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
}

func TestDecodeRejectsMissingVerified(t *testing.T) {
	raw := `{"matchScore":0.9,"confidence":"HIGH"}`

	if _, err := Decode(raw); !isMalformed(err) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
}

func TestDecodeRejectsWrongTypes(t *testing.T) {
	for _, raw := range []string{
		`{"verified":"yes","matchScore":0.9}`,
		`{"verified":true,"matchScore":"0.9"}`,
	} {
		if _, err := Decode(raw); !isMalformed(err) {
			t.Errorf("input %s: expected MalformedOutputError, got %v", raw, err)
		}
	}
}

func TestDecodeRejectsScoreOutsideRange(t *testing.T) {
	for _, raw := range []string{
		`{"verified":true,"matchScore":1.5}`,
		`{"verified":true,"matchScore":-0.1}`,
	} {
		if _, err := Decode(raw); !isMalformed(err) {
			t.Errorf("input %s: expected MalformedOutputError, got %v", raw, err)
		}
	}
}

func TestDecodeRejectsUnknownConfidence(t *testing.T) {
	raw := `{"verified":true,"matchScore":0.9,"confidence":"MAXIMUM"}`

	if _, err := Decode(raw); !isMalformed(err) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
}

func TestDecodeDerivesConfidenceWhenAbsent(t *testing.T) {
	cases := []struct {
		score float64
		want  ConfidenceBand
	}{
		{0.95, ConfidenceHigh},
		{0.80, ConfidenceHigh},
		{0.60, ConfidenceMedium},
		{0.50, ConfidenceMedium},
		{0.10, ConfidenceLow},
	}
	for _, tc := range cases {
		raw := fmt.Sprintf(`{"verified":true,"matchScore":%g}`, tc.score)
		outcome, err := Decode(raw)
		if err != nil {
			t.Fatalf("score %v: decode failed: %v", tc.score, err)
		}
		if outcome.Confidence != tc.want {
			t.Errorf("score %v: expected %s, got %s", tc.score, tc.want, outcome.Confidence)
		}
	}
}

func TestDecodeLivenessDefaultsClosed(t *testing.T) {
	raw := `{"verified":true,"matchScore":0.9}`

	outcome, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if outcome.LivenessPassed {
		t.Fatal("absent livenessCheck must default to false")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	for _, raw := range []string{
		`{"verified":true,"matchScore":0.9} junk`,
		`{"verified":true,"matchScore":0.9}{"verified":false,"matchScore":0.1}`,
		`{"verified":true,"matchScore":0.9} true`,
	} {
		if _, err := Decode(raw); !isMalformed(err) {
			t.Errorf("input %q: expected MalformedOutputError, got %v", raw, err)
		}
	}
}

func TestDecodeToleratesSurroundingWhitespace(t *testing.T) {
	outcome, err := Decode("\n  {\"verified\":true,\"matchScore\":0.9}\n")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !outcome.Verified {
		t.Fatal("expected verified=true")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", `["verified"]`, `{"verified":true,`} {
		if _, err := Decode(raw); !isMalformed(err) {
			t.Errorf("input %q: expected MalformedOutputError, got %v", raw, err)
		}
	}
}

func isMalformed(err error) bool {
	var malformed *MalformedOutputError
	return errors.As(err, &malformed)
}
