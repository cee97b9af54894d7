package registry

import "testing"

func TestRegisterGetDeregister(t *testing.T) {
	r := New()
	r.Register(Metadata{ConnectionID: "conn-1", RemoteAddress: "1.2.3.4:5"})

	m, ok := r.Get("conn-1")
	if !ok {
		t.Fatalf("expected conn-1 registered")
	}
	if m.RemoteAddress != "1.2.3.4:5" {
		t.Fatalf("unexpected metadata: %+v", m)
	}

	r.Deregister("conn-1")
	if _, ok := r.Get("conn-1"); ok {
		t.Fatalf("expected conn-1 deregistered")
	}
}

func TestUpdateAuthReflectsInSnapshot(t *testing.T) {
	r := New()
	r.Register(Metadata{ConnectionID: "conn-1"})
	r.UpdateAuth("conn-1", true, "user-1", []string{"user"})

	m, _ := r.Get("conn-1")
	if !m.Authenticated || m.UserID != "user-1" || len(m.Roles) != 1 {
		t.Fatalf("unexpected metadata after auth update: %+v", m)
	}
}

func TestUpdateSubscriptionsAndCounts(t *testing.T) {
	r := New()
	r.Register(Metadata{ConnectionID: "conn-1"})
	r.Register(Metadata{ConnectionID: "conn-2"})
	r.UpdateSubscriptions("conn-1", 2, 1)
	r.UpdateSubscriptions("conn-2", 0, 3)

	connections, subs := r.Counts()
	if connections != 2 || subs != 6 {
		t.Fatalf("expected 2 connections / 6 subscriptions, got %d/%d", connections, subs)
	}
}

func TestUpdateOnUnknownConnectionIsNoOp(t *testing.T) {
	r := New()
	r.UpdateAuth("ghost", true, "user-1", nil)
	if _, ok := r.Get("ghost"); ok {
		t.Fatalf("expected no entry created for unknown connection")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := New()
	r.Register(Metadata{ConnectionID: "conn-1"})
	snap := r.Snapshot()
	r.UpdateAuth("conn-1", true, "user-1", nil)

	if snap[0].Authenticated {
		t.Fatalf("expected snapshot taken before the update to be unaffected")
	}
}
