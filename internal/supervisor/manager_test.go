package supervisor

import (
	"testing"

	"github.com/rs/zerolog"
)

func testManager() *AppManager {
	return NewAppManager(testBus(), zerolog.Nop())
}

func TestDeclareIsIdempotentPerAppLabel(t *testing.T) {
	m := testManager()
	a := m.Declare(Spec{App: "foo", Label: "0"})
	b := m.Declare(Spec{App: "foo", Label: "0"})
	if a != b {
		t.Error("Declare with the same app/label should return the same *AppInstance")
	}
}

func TestDeclareDistinguishesAppFromLabel(t *testing.T) {
	m := testManager()
	a := m.Declare(Spec{App: "foo", Label: "0"})
	b := m.Declare(Spec{App: "bar", Label: "0"})
	if a == b {
		t.Error("Declare should treat (foo, 0) and (bar, 0) as distinct instances")
	}
}

func TestLookupReturnsErrorForUnknownKey(t *testing.T) {
	m := testManager()
	if _, err := m.Lookup("foo/0"); err == nil {
		t.Error("expected Lookup of an undeclared key to fail")
	}
}

func TestLookupFindsDeclaredInstance(t *testing.T) {
	m := testManager()
	inst := m.Declare(Spec{App: "foo", Label: "0"})
	got, err := m.Lookup("foo/0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != inst {
		t.Error("Lookup returned a different instance than Declare created")
	}
}

func TestInstancesForAppFiltersAndSortsByLabel(t *testing.T) {
	m := testManager()
	m.Declare(Spec{App: "foo", Label: "10"})
	m.Declare(Spec{App: "foo", Label: "2"})
	m.Declare(Spec{App: "bar", Label: "0"})

	got := m.InstancesForApp("foo")
	if len(got) != 2 {
		t.Fatalf("InstancesForApp(foo) returned %d instances, want 2", len(got))
	}
	if got[0].LabelName() != "2" || got[1].LabelName() != "10" {
		t.Errorf("expected numeric-aware order [2, 10], got [%s, %s]", got[0].LabelName(), got[1].LabelName())
	}
}

func TestLabelLessNumericAwareOrdering(t *testing.T) {
	if !labelLess("2", "10") {
		t.Error("expected \"2\" < \"10\" under numeric-aware comparison")
	}
	if labelLess("10", "2") {
		t.Error("expected \"10\" to not be less than \"2\"")
	}
}

func TestLabelLessFallsBackToStringOrdering(t *testing.T) {
	if !labelLess("blue", "green") {
		t.Error("expected non-numeric labels to fall back to lexical ordering")
	}
}
