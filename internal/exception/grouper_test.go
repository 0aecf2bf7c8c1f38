package exception_test

import (
	"testing"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
	"github.com/blackwell-systems/railscope/internal/exception"
	"github.com/blackwell-systems/railscope/internal/severity"
)

func raised(class, msg string, backtrace ...string) event.ExceptionRaised {
	return event.ExceptionRaised{
		Class:     class,
		Message:   msg,
		Backtrace: backtrace,
		At:        time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestGrouperSameFrameIncrementsOneGroup(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})

	bt := []string{"app/models/user.rb:42:in `find_account'", "app/controllers/users_controller.rb:10:in `show'"}
	g.Record("web", raised("NoMethodError", "undefined method `name' for nil", bt...))
	g.Record("web", raised("NoMethodError", "undefined method `name' for nil", bt...))

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Count != 2 {
		t.Errorf("count = %d, want 2", groups[0].Count)
	}
	if groups[0].TopFrame != "app/models/user.rb:42" {
		t.Errorf("top frame = %q", groups[0].TopFrame)
	}
}

func TestGrouperDifferentFrameCreatesNewGroup(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})

	g.Record("web", raised("NoMethodError", "boom", "app/models/user.rb:42:in `a'"))
	g.Record("web", raised("NoMethodError", "boom", "app/models/user.rb:42:in `a'"))
	g.Record("web", raised("NoMethodError", "boom", "app/models/post.rb:7:in `b'"))

	groups := g.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if g.TotalCount() != 3 {
		t.Errorf("total = %d, want 3", g.TotalCount())
	}
}

func TestGrouperFingerprintIgnoresObjectIDs(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})

	g.Record("web", raised("NoMethodError", "undefined method `x' for #<User:0x00007f8a1c0b2d30>", "app/models/user.rb:42:in `a'"))
	g.Record("web", raised("NoMethodError", "undefined method `x' for #<User:0x00007fee99aa1100>", "app/models/user.rb:42:in `a'"))

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if got := groups[0].Message; got != "undefined method `x' for #<User>" {
		t.Errorf("message = %q", got)
	}
}

func TestGrouperProjectRootStripped(t *testing.T) {
	g := exception.NewGrouper(exception.Config{ProjectRoot: "/home/dev/shop"})

	g.Record("web", raised("RuntimeError", "boom", "/home/dev/shop/app/models/user.rb:42:in `a'"))
	g.Record("other", raised("RuntimeError", "boom", "app/models/user.rb:42:in `a'"))

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected identical fingerprints across machines, got %d groups", len(groups))
	}
}

func TestGrouperSeverityClassification(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})

	cases := []struct {
		class string
		want  severity.Level
	}{
		{"ActiveRecord::RecordNotUnique", severity.Critical},
		{"ActiveRecord::RecordNotFound", severity.Low},
		{"ActionController::ParameterMissing", severity.Medium},
		{"NoMethodError", severity.High},
	}
	for i, tc := range cases {
		g.Record("web", raised(tc.class, "boom", "app/x.rb:"+string(rune('1'+i))+":in `a'"))
	}

	bySev := make(map[string]severity.Level)
	for _, grp := range g.Groups() {
		bySev[grp.Class] = grp.Severity
	}
	for _, tc := range cases {
		if bySev[tc.class] != tc.want {
			t.Errorf("%s: severity = %v, want %v", tc.class, bySev[tc.class], tc.want)
		}
	}
}

func TestGrouperOrderedBySeverityThenCount(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})

	g.Record("web", raised("ActiveRecord::RecordNotFound", "gone", "app/a.rb:1:in `a'"))
	g.Record("web", raised("NoMethodError", "boom", "app/b.rb:2:in `b'"))
	g.Record("web", raised("SecurityError", "bad", "app/c.rb:3:in `c'"))

	groups := g.Groups()
	if groups[0].Class != "SecurityError" || groups[2].Class != "ActiveRecord::RecordNotFound" {
		t.Errorf("unexpected order: %s, %s, %s", groups[0].Class, groups[1].Class, groups[2].Class)
	}
}

func TestGrouperCapOverflow(t *testing.T) {
	g := exception.NewGrouper(exception.Config{GroupCap: 2})

	g.Record("web", raised("RuntimeError", "a", "app/a.rb:1:in `a'"))
	g.Record("web", raised("RuntimeError", "b", "app/b.rb:2:in `b'"))
	g.Record("web", raised("RuntimeError", "c", "app/c.rb:3:in `c'"))
	// An existing fingerprint still increments past the cap.
	g.Record("web", raised("RuntimeError", "a", "app/a.rb:1:in `a'"))

	if len(g.Groups()) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(g.Groups()))
	}
	if g.Overflow() != 1 {
		t.Errorf("overflow = %d, want 1", g.Overflow())
	}
	if g.TotalCount() != 4 {
		t.Errorf("total = %d, want 4", g.TotalCount())
	}
}

func TestGrouperSampleBacktraceBounded(t *testing.T) {
	g := exception.NewGrouper(exception.Config{SampleBacktraceLimit: 2})

	g.Record("web", raised("RuntimeError", "boom",
		"app/a.rb:1:in `a'", "app/b.rb:2:in `b'", "app/c.rb:3:in `c'"))

	groups := g.Groups()
	if len(groups[0].Sample) != 2 {
		t.Errorf("sample length = %d, want 2", len(groups[0].Sample))
	}
}

func TestGrouperNoBacktrace(t *testing.T) {
	g := exception.NewGrouper(exception.Config{})
	g.Record("web", raised("RuntimeError", "boom"))

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].TopFrame != "<no backtrace>" {
		t.Errorf("top frame = %q", groups[0].TopFrame)
	}
}
