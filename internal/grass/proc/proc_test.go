package proc

import (
	"errors"
	"testing"
)

func TestAllocAssignsIncreasingPids(t *testing.T) {
	tbl := New(4, nil)

	pid1, err := tbl.Alloc(GPIDUnused)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	pid2, err := tbl.Alloc(pid1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pid2 <= pid1 {
		t.Fatalf("expected increasing pids, got %d then %d", pid1, pid2)
	}
	if p := tbl.Get(pid2); p.Status != StatusLoading || p.ParentPid != pid1 {
		t.Fatalf("unexpected process state: %+v", p)
	}
}

func TestAllocFailsWhenTableFull(t *testing.T) {
	tbl := New(2, nil)
	if _, err := tbl.Alloc(GPIDUnused); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := tbl.Alloc(GPIDUnused); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := tbl.Alloc(GPIDUnused); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
}

func TestExitReparentsChildrenAndZombifies(t *testing.T) {
	tbl := New(4, nil)
	parent, _ := tbl.Alloc(GPIDUnused)
	child, _ := tbl.Alloc(parent)

	tbl.Exit(parent)

	if tbl.Get(parent).Status != StatusZombie {
		t.Fatal("exited process should be a zombie")
	}
	if tbl.Get(child).ParentPid != GPIDUnused {
		t.Fatalf("child should be reparented to %d, got %d", GPIDUnused, tbl.Get(child).ParentPid)
	}
}

func TestReapZombieChildFreesAndReturnsPid(t *testing.T) {
	tbl := New(4, nil)
	parent, _ := tbl.Alloc(GPIDUnused)
	child, _ := tbl.Alloc(parent)
	tbl.Exit(child)

	freedPids := []int{}
	gotPid, ok := tbl.ReapZombieChild(parent, func(pid int) { freedPids = append(freedPids, pid) })
	if !ok || gotPid != child {
		t.Fatalf("expected to reap child %d, got %d ok=%v", child, gotPid, ok)
	}
	if tbl.Get(child).Status != StatusUnused {
		t.Fatal("reaped child should be unused")
	}
	if len(freedPids) != 1 || freedPids[0] != child {
		t.Fatalf("expected mmuFree called once with %d, got %v", child, freedPids)
	}

	if _, ok := tbl.ReapZombieChild(parent, func(int) {}); ok {
		t.Fatal("expected no further zombie children")
	}
}

func TestAllocOrKillallRetriesAfterFreeingUserProcesses(t *testing.T) {
	tbl := New(2, nil)
	server, _ := tbl.Alloc(GPIDUnused) // pid 1: below firstUserPid, survives killall
	user, _ := tbl.Alloc(server)       // pid 2: at/above firstUserPid, freed by killall
	tbl.SetReady(server)
	tbl.SetReady(user)

	const firstUserPid = 2
	var freed []int
	spawned, err := tbl.AllocOrKillall(server, firstUserPid, func(pid int) { freed = append(freed, pid) })
	if err != nil {
		t.Fatalf("AllocOrKillall: %v", err)
	}
	if tbl.Get(server).Status != StatusReady {
		t.Fatal("server process should survive the killall retry")
	}
	if len(freed) != 1 || freed[0] != user {
		t.Fatalf("expected mmuFree called once with %d, got %v", user, freed)
	}
	if p := tbl.Get(spawned); p == nil || p.Status != StatusLoading {
		t.Fatalf("expected the retried alloc to succeed, got %+v", p)
	}
}

func TestAllocOrKillallFailsFatallyWhenStillFullAfterRetry(t *testing.T) {
	tbl := New(1, nil)
	server, _ := tbl.Alloc(GPIDUnused) // only slot, below firstUserPid: killall can't free it
	tbl.SetReady(server)

	const firstUserPid = 2
	_, err := tbl.AllocOrKillall(server, firstUserPid, func(int) {})
	if !errors.Is(err, ErrTableExhausted) {
		t.Fatalf("expected ErrTableExhausted, got %v", err)
	}
}

func TestFreeWildcardOnlyAffectsUserPids(t *testing.T) {
	tbl := New(4, nil)
	server, _ := tbl.Alloc(GPIDUnused) // pid 1: below firstUserPid
	user, _ := tbl.Alloc(server)       // pid 2: at/above firstUserPid
	tbl.SetReady(server)
	tbl.SetReady(user)

	const firstUserPid = 2
	var freed []int
	tbl.Free(GPIDAll, firstUserPid, func(pid int) { freed = append(freed, pid) })

	if tbl.Get(server).Status != StatusReady {
		t.Fatal("server process should survive a wildcard free")
	}
	if tbl.Get(user).Status != StatusUnused {
		t.Fatal("user process should be freed by a wildcard free")
	}
	if len(freed) != 1 || freed[0] != user {
		t.Fatalf("expected mmuFree called once with %d, got %v", user, freed)
	}
}
