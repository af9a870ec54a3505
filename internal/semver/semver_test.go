package semver

import "testing"

func mustVersion(t *testing.T, raw string) Version {
	t.Helper()
	v, err := ParseVersion(raw)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func mustConstraint(t *testing.T, raw string) Constraint {
	t.Helper()
	c, err := ParseConstraint(raw)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSatisfies(t *testing.T) {
	c := mustConstraint(t, "^1.2.0")

	if !Satisfies(mustVersion(t, "1.2.0"), c) {
		t.Fatalf("expected 1.2.0 to satisfy ^1.2.0")
	}
	if !Satisfies(mustVersion(t, "1.9.9"), c) {
		t.Fatalf("expected 1.9.9 to satisfy ^1.2.0")
	}
	if Satisfies(mustVersion(t, "2.0.0"), c) {
		t.Fatalf("expected 2.0.0 to NOT satisfy ^1.2.0")
	}
}

func TestMaxSatisfying(t *testing.T) {
	c := mustConstraint(t, ">=1.0.0 <2.0.0")
	candidates := []Version{
		mustVersion(t, "0.9.0"),
		mustVersion(t, "1.0.0"),
		mustVersion(t, "1.5.0"),
		mustVersion(t, "2.0.0"),
	}

	best, ok := MaxSatisfying(c, candidates)
	if !ok {
		t.Fatalf("expected to find a satisfying version")
	}
	if Compare(best, mustVersion(t, "1.5.0")) != 0 {
		t.Fatalf("expected best=1.5.0")
	}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		version, constraint string
		want                bool
	}{
		{"1.0.0", "", true},
		{"1.0.0", Any, true},
		{"anything", Any, true},
		{"1.4.0", "^1.0.0", true},
		{"2.0.0", "^1.0.0", false},
		{"1.0.0", "1.0.0", true},
		{"1.0-SNAPSHOT", "1.0-SNAPSHOT", true},
		{"1.0-SNAPSHOT", "1.1-SNAPSHOT", false},
	}
	for _, tc := range cases {
		if got := Check(tc.version, tc.constraint); got != tc.want {
			t.Fatalf("Check(%q, %q) = %v, want %v", tc.version, tc.constraint, got, tc.want)
		}
	}
}

func TestCompareRaw(t *testing.T) {
	if CompareRaw("1.10.0", "1.9.0") <= 0 {
		t.Fatalf("expected 1.10.0 > 1.9.0")
	}
	if CompareRaw("not-a-version", "0.0.1") >= 0 {
		t.Fatalf("expected unparsable versions to sort low")
	}
	if CompareRaw("b", "a") <= 0 {
		t.Fatalf("expected lexical order among unparsable versions")
	}
}
