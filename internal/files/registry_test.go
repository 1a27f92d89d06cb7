package files

import "testing"

func newWaiting(id string) File {
	return File{
		ID:           id,
		OriginalName: id + ".pdf",
		OriginalSize: 1000,
		Status:       StatusWaiting,
	}
}

func TestProgressMonotonicWithinRun(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.SetProcessing("a")

	r.SetProgress("a", 40)
	r.SetProgress("a", 20)
	r.SetProgress("a", 60)

	f, ok := r.Get("a")
	if !ok {
		t.Fatal("record missing")
	}
	if f.Progress != 60 {
		t.Fatalf("progress = %d, want 60", f.Progress)
	}
}

func TestProgressResetOnNewRun(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.SetProcessing("a")
	r.SetProgress("a", 80)
	r.SetError("a", "ENGINE_FAILURE", "boom")

	r.SetProcessing("a")
	f, _ := r.Get("a")
	if f.Progress != 0 {
		t.Fatalf("progress = %d, want 0 after re-run", f.Progress)
	}
	if f.ErrorCode != "" || f.ErrorMessage != "" {
		t.Fatalf("error not cleared on re-run: %+v", f)
	}
}

func TestRemovedJobIsNotResurrected(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.SetProcessing("a")

	if _, ok := r.Remove("a"); !ok {
		t.Fatal("remove failed")
	}

	// 処理中だったジョブの完了通知が遅れて届くケース
	if r.SetDone("a", "/tmp/out.pdf", 500) {
		t.Fatal("SetDone mutated a removed record")
	}
	if r.SetProgress("a", 90) {
		t.Fatal("SetProgress mutated a removed record")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("removed record reappeared")
	}
	if len(r.List()) != 0 {
		t.Fatalf("active set not empty: %v", r.List())
	}
}

func TestSnapshotWaitingSelectsOnlyWaitingInOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.Add(newWaiting("b"))
	r.Add(newWaiting("c"))
	r.SetProcessing("b")

	snap := r.SnapshotWaiting([]string{"c", "b", "a", "missing"})
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].ID != "a" || snap[1].ID != "c" {
		t.Fatalf("snapshot order = %s,%s, want a,c", snap[0].ID, snap[1].ID)
	}

	// スナップショット取得後の変化は選択結果へ影響しない
	r.Remove("c")
	if snap[1].ID != "c" {
		t.Fatal("snapshot must be independent of later mutations")
	}
}

func TestDoneFieldsOnlyWhenDone(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.SetProcessing("a")
	r.SetDone("a", "/tmp/out.pdf", 123)

	f, _ := r.Get("a")
	if f.Status != StatusDone || f.ArtifactPath == "" || f.DerivedSize != 123 {
		t.Fatalf("unexpected done state: %+v", f)
	}

	r.SetProcessing("a")
	r.SetError("a", "ENGINE_FAILURE", "boom")
	f, _ = r.Get("a")
	if f.ArtifactPath != "" || f.DerivedSize != 0 {
		t.Fatalf("artifact fields must be cleared on error: %+v", f)
	}
}

func TestAppendEnhancementUpdatesArtifact(t *testing.T) {
	r := NewRegistry()
	r.Add(newWaiting("a"))
	r.SetProcessing("a")
	r.AppendEnhancement("a", EnhancementStep{Prompt: "初回", ArtifactPath: "/tmp/e1.png", ArtifactSize: 10})
	r.SetProcessing("a")
	r.AppendEnhancement("a", EnhancementStep{Prompt: "空を青く", ArtifactPath: "/tmp/e2.png", ArtifactSize: 20})

	f, _ := r.Get("a")
	if len(f.EnhancementTrail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(f.EnhancementTrail))
	}
	if f.ArtifactPath != "/tmp/e2.png" || f.DerivedSize != 20 {
		t.Fatalf("artifact not pointing at newest step: %+v", f)
	}
	if latest := f.LatestArtifact(); latest == nil || latest.ArtifactPath != "/tmp/e2.png" {
		t.Fatalf("LatestArtifact = %+v", latest)
	}
}
