package cancel

import "testing"

func TestRegistryRegisterGetRemove(t *testing.T) {
	reg := NewRegistry(10)
	tok, err := reg.Register("sess-1", "conv-1")
	if err != nil {
		t.Fatalf("Register() = %v, want nil", err)
	}
	if tok.State() != StateActive {
		t.Fatalf("registered token state = %v, want active", tok.State())
	}

	got, ok := reg.Get("sess-1")
	if !ok || got != tok {
		t.Fatalf("Get() = (%v, %v), want (%v, true)", got, ok, tok)
	}

	reg.Remove("sess-1")
	if _, ok := reg.Get("sess-1"); ok {
		t.Fatalf("Get() after Remove() found a token, want none")
	}
}

func TestRegistryRejectsDuplicateSession(t *testing.T) {
	reg := NewRegistry(10)
	if _, err := reg.Register("sess-1", ""); err != nil {
		t.Fatalf("first Register() = %v, want nil", err)
	}
	if _, err := reg.Register("sess-1", ""); err != ErrSessionExists {
		t.Fatalf("second Register() = %v, want ErrSessionExists", err)
	}
}

func TestRegistryEnforcesCap(t *testing.T) {
	reg := NewRegistry(2)
	if _, err := reg.Register("sess-1", ""); err != nil {
		t.Fatalf("Register(sess-1) = %v, want nil", err)
	}
	if _, err := reg.Register("sess-2", ""); err != nil {
		t.Fatalf("Register(sess-2) = %v, want nil", err)
	}
	if _, err := reg.Register("sess-3", ""); err != ErrRegistryFull {
		t.Fatalf("Register(sess-3) = %v, want ErrRegistryFull", err)
	}
}

func TestRegistryCleanupFinished(t *testing.T) {
	reg := NewRegistry(10)
	live, _ := reg.Register("live", "")
	done, _ := reg.Register("done", "")
	done.Complete()

	if n := reg.CleanupFinished(); n != 1 {
		t.Fatalf("CleanupFinished() = %d, want 1", n)
	}
	if _, ok := reg.Get("done"); ok {
		t.Fatalf("finished session still present after cleanup")
	}
	if _, ok := reg.Get("live"); !ok {
		t.Fatalf("live session removed by cleanup")
	}
	_ = live
}

func TestRegistryCancelAll(t *testing.T) {
	reg := NewRegistry(10)
	t1, _ := reg.Register("a", "")
	t2, _ := reg.Register("b", "")
	reg.CancelAll()
	if t1.State() != StateCancelled || t2.State() != StateCancelled {
		t.Fatalf("CancelAll() left states %v, %v", t1.State(), t2.State())
	}
}

func TestRegistryCancelUnknownSession(t *testing.T) {
	reg := NewRegistry(10)
	if reg.Cancel("nope") {
		t.Fatalf("Cancel() on unknown session = true, want false")
	}
}
