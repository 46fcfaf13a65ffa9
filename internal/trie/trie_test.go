package trie

import (
	"sort"
	"testing"
)

func mustGet(t *testing.T, tr *Trie, path []string) FileID {
	t.Helper()

	id, ok := tr.Get(path)
	if !ok {
		t.Fatalf("Get(%v): not found", path)
	}

	return id
}

func TestInsertNodes(t *testing.T) {
	tr := New()

	tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 13}, 1)
	tr.Add([]string{"folder1", "subfolder1", "file2"}, FileID{1, 12}, 1)
	tr.Add([]string{"folder1", "subfolder2", "file3"}, FileID{1, 11}, 1)
	tr.Add([]string{"folder2", "subfolder1", "file4"}, FileID{1, 10}, 1)
	tr.Add([]string{"folder2", "file5"}, FileID{1, 9}, 1)
	tr.Add([]string{"file6"}, FileID{1, 8}, 1)

	if id := mustGet(t, tr, []string{"folder1", "subfolder1", "file1"}); id != (FileID{1, 13}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"folder1", "subfolder1", "file2"}); id != (FileID{1, 12}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"folder1", "subfolder2", "file3"}); id != (FileID{1, 11}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"folder2", "subfolder1", "file4"}); id != (FileID{1, 10}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"folder2", "file5"}); id != (FileID{1, 9}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"file6"}); id != (FileID{1, 8}) {
		t.Errorf("got %v", id)
	}

	if _, ok := tr.Get([]string{"file1"}); ok {
		t.Errorf("expected file1 at root to be absent")
	}
	if _, ok := tr.Get([]string{"file5"}); ok {
		t.Errorf("expected file5 at root to be absent")
	}
	if _, ok := tr.Get([]string{"folder2", "subfolder1", "file5"}); ok {
		t.Errorf("expected nonexistent path to be absent")
	}
	if _, ok := tr.Get([]string{"folder2", "subfolder1", "subsubfolder1", "file5"}); ok {
		t.Errorf("expected nonexistent deep path to be absent")
	}

	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 14}, 1); got != "file1(site 1)" {
		t.Errorf("collision rename = %q, want %q", got, "file1(site 1)")
	}
	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 15}, 1); got != "file1(site 1)(site 1)" {
		t.Errorf("double collision rename = %q, want %q", got, "file1(site 1)(site 1)")
	}
	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{2, 16}, 2); got != "file1(site 2)" {
		t.Errorf("collision rename with different author = %q, want %q", got, "file1(site 2)")
	}
}

func TestRemoveFile(t *testing.T) {
	tr := New()

	tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 13}, 1)
	tr.Add([]string{"folder1", "subfolder1", "file2"}, FileID{1, 12}, 1)
	tr.Add([]string{"folder1", "subfolder2", "file3"}, FileID{1, 11}, 1)
	tr.Add([]string{"folder2", "subfolder1", "file4"}, FileID{1, 10}, 1)
	tr.Add([]string{"folder2", "file5"}, FileID{1, 9}, 1)
	tr.Add([]string{"file6"}, FileID{1, 8}, 1)

	id, ok := tr.RemoveFile([]string{"folder1", "subfolder1", "file1"})
	if !ok || id != (FileID{1, 13}) {
		t.Fatalf("RemoveFile file1 = %v, %v", id, ok)
	}

	if id := mustGet(t, tr, []string{"folder1", "subfolder1", "file2"}); id != (FileID{1, 12}) {
		t.Errorf("got %v", id)
	}

	id, ok = tr.RemoveFile([]string{"file6"})
	if !ok || id != (FileID{1, 8}) {
		t.Fatalf("RemoveFile file6 = %v, %v", id, ok)
	}

	if id := mustGet(t, tr, []string{"folder1", "subfolder1", "file2"}); id != (FileID{1, 12}) {
		t.Errorf("got %v", id)
	}

	id, ok = tr.RemoveFile([]string{"folder1", "subfolder1", "file2"})
	if !ok || id != (FileID{1, 12}) {
		t.Fatalf("RemoveFile file2 = %v, %v", id, ok)
	}

	tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 16}, 1)

	if id := mustGet(t, tr, []string{"folder1", "subfolder1", "file1"}); id != (FileID{1, 16}) {
		t.Errorf("got %v", id)
	}

	id, ok = tr.RemoveFile([]string{"folder1", "subfolder1", "file1"})
	if !ok || id != (FileID{1, 16}) {
		t.Fatalf("RemoveFile file1 again = %v, %v", id, ok)
	}
}

func TestRemoveFileNonexistent(t *testing.T) {
	tr := New()
	tr.Add([]string{"a.txt"}, FileID{1, 0}, 1)

	if _, ok := tr.RemoveFile([]string{"missing.txt"}); ok {
		t.Errorf("expected RemoveFile of missing path to report not found")
	}

	if id := mustGet(t, tr, []string{"a.txt"}); id != (FileID{1, 0}) {
		t.Errorf("unrelated remove mutated existing entry: %v", id)
	}
}

func sortedIDs(ids []FileID) []FileID {
	out := append([]FileID(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].ID < out[j].ID
	})

	return out
}

func TestRemoveFolder(t *testing.T) {
	tr := New()

	tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 13}, 1)
	tr.Add([]string{"folder1", "subfolder1", "file2"}, FileID{1, 12}, 1)
	tr.Add([]string{"folder1", "subfolder2", "file3"}, FileID{1, 11}, 1)
	tr.Add([]string{"folder2", "subfolder1", "file4"}, FileID{1, 10}, 1)
	tr.Add([]string{"folder2", "file5"}, FileID{1, 9}, 1)
	tr.Add([]string{"file6"}, FileID{1, 8}, 1)

	removed := tr.RemoveFolder([]string{"folder1", "subfolder1"})
	if got := sortedIDs(removed); len(got) != 2 || got[0] != (FileID{1, 12}) || got[1] != (FileID{1, 13}) {
		t.Fatalf("RemoveFolder(folder1/subfolder1) = %v", removed)
	}

	if _, ok := tr.Get([]string{"folder1", "subfolder1", "file1"}); ok {
		t.Errorf("file1 should be gone")
	}
	if _, ok := tr.Get([]string{"folder1", "subfolder1", "file2"}); ok {
		t.Errorf("file2 should be gone")
	}
	if id := mustGet(t, tr, []string{"folder1", "subfolder2", "file3"}); id != (FileID{1, 11}) {
		t.Errorf("got %v", id)
	}

	removed = tr.RemoveFolder([]string{"folder1"})
	if len(removed) != 1 || removed[0] != (FileID{1, 11}) {
		t.Fatalf("RemoveFolder(folder1) = %v", removed)
	}

	if _, ok := tr.Get([]string{"folder1", "subfolder2", "file3"}); ok {
		t.Errorf("file3 should be gone")
	}

	if id := mustGet(t, tr, []string{"folder2", "subfolder1", "file4"}); id != (FileID{1, 10}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"folder2", "file5"}); id != (FileID{1, 9}) {
		t.Errorf("got %v", id)
	}
	if id := mustGet(t, tr, []string{"file6"}); id != (FileID{1, 8}) {
		t.Errorf("got %v", id)
	}

	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 14}, 1); got != "file1" {
		t.Errorf("re-add after folder removal = %q, want %q", got, "file1")
	}
	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{1, 15}, 1); got != "file1(site 1)" {
		t.Errorf("got %q", got)
	}
	if got := tr.Add([]string{"folder1", "subfolder1", "file1"}, FileID{2, 16}, 2); got != "file1(site 2)" {
		t.Errorf("got %q", got)
	}
}

func TestRemoveFolderIncludesRootFileID(t *testing.T) {
	tr := New()
	tr.Add([]string{"a"}, FileID{1, 1}, 1)
	tr.Add([]string{"a", "b"}, FileID{1, 2}, 1)

	removed := tr.RemoveFolder([]string{"a"})
	got := sortedIDs(removed)
	if len(got) != 2 || got[0] != (FileID{1, 1}) || got[1] != (FileID{1, 2}) {
		t.Fatalf("RemoveFolder should include the FileID at its own root node: %v", removed)
	}
}

func TestRemoveFolderNonexistent(t *testing.T) {
	tr := New()
	tr.Add([]string{"a.txt"}, FileID{1, 0}, 1)

	removed := tr.RemoveFolder([]string{"missing"})
	if len(removed) != 0 {
		t.Errorf("expected no files removed, got %v", removed)
	}

	if id := mustGet(t, tr, []string{"a.txt"}); id != (FileID{1, 0}) {
		t.Errorf("unrelated folder remove mutated existing entry: %v", id)
	}
}
