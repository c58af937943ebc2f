package rules

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/serome111/portwatch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rules.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndList(t *testing.T) {
	s := openTestStore(t)
	r, err := s.Create(model.Rule{
		Process:     "curl",
		Destination: "example.com",
		Protocol:    model.ProtocolTCP,
		Action:      model.ActionAllow,
		Scope:       model.ScopeAlways,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected generated id")
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(list))
	}
}

func TestCreateRejectsMissingProcess(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(model.Rule{
		Destination: "example.com",
		Action:      model.ActionAllow,
		Scope:       model.ScopeAlways,
	})
	if err == nil {
		t.Fatal("expected validation error for missing process")
	}
}

func TestFindMatchingPrefersExeHash(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(model.Rule{
		Process: "app", ExePath: "/usr/bin/app", ExeHash: "deadbeef",
		Destination: "evil.example", Action: model.ActionDeny, Scope: model.ScopeAlways,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.Create(model.Rule{
		Process: "app", ExePath: "/usr/bin/app",
		Destination: "evil.example", Action: model.ActionAllow, Scope: model.ScopeAlways,
	})
	if err != nil {
		t.Fatalf("Create second rule: %v", err)
	}

	r, err := s.FindMatching(Match{
		Process: "app", ExePath: "/usr/bin/app", ExeHash: "deadbeef",
		Destination: "evil.example", Port: 443,
	})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r == nil || r.Action != model.ActionDeny {
		t.Fatalf("expected exe_hash match to win with deny, got %+v", r)
	}
}

func TestFindMatchingExeHashDoesNotCrossDestinations(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create(model.Rule{
		Process: "app", ExePath: "/usr/bin/app", ExeHash: "deadbeef",
		Destination: "evil.example", Action: model.ActionDeny, Scope: model.ScopeAlways,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := s.FindMatching(Match{
		Process: "app", ExePath: "/usr/bin/app", ExeHash: "deadbeef",
		Destination: "other.example", Port: 443,
	})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r != nil {
		t.Fatalf("expected hash rule scoped to evil.example not to match other.example, got %+v", r)
	}
}

func TestFindMatchingExePathPrefersPortSpecific(t *testing.T) {
	s := openTestStore(t)
	anyPort := 8080
	if _, err := s.Create(model.Rule{
		Process: "app", ExePath: "/usr/bin/app",
		Destination: "svc.example", Action: model.ActionAllow, Scope: model.ScopeAlways,
	}); err != nil {
		t.Fatalf("Create any-port rule: %v", err)
	}
	if _, err := s.Create(model.Rule{
		Process: "app", ExePath: "/usr/bin/app", Port: &anyPort,
		Destination: "svc.example", Action: model.ActionDeny, Scope: model.ScopeAlways,
	}); err != nil {
		t.Fatalf("Create port-specific rule: %v", err)
	}

	r, err := s.FindMatching(Match{
		Process: "app", ExePath: "/usr/bin/app",
		Destination: "svc.example", Port: 8080,
	})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r == nil || r.Action != model.ActionDeny {
		t.Fatalf("expected port-specific exe_path rule to win, got %+v", r)
	}
}

func TestCreateRejectsAskAction(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(model.Rule{
		Process: "app", Destination: "example.com",
		Action: model.ActionAsk, Scope: model.ScopeAlways,
	})
	if err == nil {
		t.Fatal("expected validation error for action=ask")
	}
}

func TestCreateRejectsTemporaryWithoutExpiresAt(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(model.Rule{
		Process: "app", Destination: "example.com",
		Action: model.ActionAllow, Scope: model.ScopeTemporary,
	})
	if err == nil {
		t.Fatal("expected validation error for scope=temporary without expires_at")
	}
}

func TestFindMatchingFallsBackToProcessDestinationAnyPort(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create(model.Rule{
		Process: "curl", Destination: "example.com",
		Action: model.ActionAllow, Scope: model.ScopeAlways,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := s.FindMatching(Match{Process: "curl", Destination: "example.com", Port: 8443})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r == nil || r.Action != model.ActionAllow {
		t.Fatalf("expected any-port fallback rule to match, got %+v", r)
	}
}

func TestFindMatchingNoneReturnsNil(t *testing.T) {
	s := openTestStore(t)
	r, err := s.FindMatching(Match{Process: "nothing", Destination: "nowhere.example"})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r != nil {
		t.Fatalf("expected no match, got %+v", r)
	}
}

func TestFindMatchingOnceScopeDisablesAfterMatch(t *testing.T) {
	s := openTestStore(t)
	created, err := s.Create(model.Rule{
		Process: "curl", Destination: "example.com",
		Action: model.ActionAllow, Scope: model.ScopeOnce,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := s.FindMatching(Match{Process: "curl", Destination: "example.com", Port: 443})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if first == nil || first.ID != created.ID {
		t.Fatalf("expected first match, got %+v", first)
	}

	second, err := s.FindMatching(Match{Process: "curl", Destination: "example.com", Port: 443})
	if err != nil {
		t.Fatalf("FindMatching second call: %v", err)
	}
	if second != nil {
		t.Fatalf("expected once-scope rule to be disabled after first match, got %+v", second)
	}
}

func TestExpiredTemporaryRuleIsDisabledBeforeMatching(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Hour)
	_, err := s.Create(model.Rule{
		Process: "tmp", Destination: "temp.example",
		Action: model.ActionAllow, Scope: model.ScopeTemporary, ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := s.FindMatching(Match{Process: "tmp", Destination: "temp.example", Port: 80})
	if err != nil {
		t.Fatalf("FindMatching: %v", err)
	}
	if r != nil {
		t.Fatalf("expected expired rule to no longer match, got %+v", r)
	}
}

func TestDeleteRemovesRule(t *testing.T) {
	s := openTestStore(t)
	r, err := s.Create(model.Rule{
		Process: "x", Destination: "x.example", Action: model.ActionDeny, Scope: model.ScopeAlways,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, _ := s.List()
	if len(list) != 0 {
		t.Fatalf("expected 0 rules after delete, got %d", len(list))
	}
}

func TestExportImportRegeneratesIDs(t *testing.T) {
	s := openTestStore(t)
	r, err := s.Create(model.Rule{
		Process: "y", Destination: "y.example", Action: model.ActionAllow, Scope: model.ScopeAlways,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	exported, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	s2 := openTestStore(t)
	n, err := s2.Import(exported)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 imported rule, got %d", n)
	}
	list, _ := s2.List()
	if len(list) != 1 || list[0].ID == r.ID {
		t.Fatalf("expected imported rule to have a new id, got %+v", list)
	}
}
