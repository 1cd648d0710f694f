package trie

import "testing"

func TestEmptyTrieMatchesNothingSpecific(t *testing.T) {
	tr := New(32)

	plenMatch, plenWC := tr.Query(0x01020304)
	if plenMatch != 0 {
		t.Fatalf("empty trie: plenMatch = %d, want 0", plenMatch)
	}
	if plenWC != 0 {
		t.Fatalf("empty trie: plenWC = %d, want 0", plenWC)
	}
}

func TestInsertExactQuery(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 16) // 192.168.0.0/16

	plenMatch, _ := tr.Query(0xC0A80142) // 192.168.1.66
	if plenMatch != 16 {
		t.Fatalf("plenMatch = %d, want 16", plenMatch)
	}

	plenMatch, _ = tr.Query(0xC0A90142) // 192.169.1.66, diverges at bit 15
	if plenMatch != 0 {
		t.Fatalf("plenMatch = %d, want 0 (no covering prefix)", plenMatch)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 16)
	tr.Insert(0xC0A80100, 24)

	plenMatch, _ := tr.Query(0xC0A80105)
	if plenMatch != 24 {
		t.Fatalf("plenMatch = %d, want 24", plenMatch)
	}

	plenMatch, _ = tr.Query(0xC0A80205)
	if plenMatch != 16 {
		t.Fatalf("plenMatch = %d, want 16 (only the /16 covers this address)", plenMatch)
	}
}

func TestRemoveRestoresPriorState(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 16)
	tr.Insert(0xC0A80100, 24)

	tr.Remove(0xC0A80100, 24)

	plenMatch, _ := tr.Query(0xC0A80105)
	if plenMatch != 16 {
		t.Fatalf("after remove: plenMatch = %d, want 16", plenMatch)
	}
}

func TestRefcountedDuplicateInsert(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 16)
	tr.Insert(0xC0A80000, 16)

	tr.Remove(0xC0A80000, 16)

	// one occurrence remains.
	plenMatch, _ := tr.Query(0xC0A80105)
	if plenMatch != 16 {
		t.Fatalf("plenMatch = %d, want 16 after removing one of two duplicates", plenMatch)
	}

	tr.Remove(0xC0A80000, 16)
	plenMatch, _ = tr.Query(0xC0A80105)
	if plenMatch != 0 {
		t.Fatalf("plenMatch = %d, want 0 after removing both duplicates", plenMatch)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 16)

	tr.Remove(0xDEADBEEF, 32) // never inserted

	plenMatch, _ := tr.Query(0xC0A80105)
	if plenMatch != 16 {
		t.Fatalf("unrelated Remove corrupted the trie: plenMatch = %d", plenMatch)
	}
}

func TestZeroLengthPrefixIsCatchall(t *testing.T) {
	tr := New(32)
	tr.Insert(0, 0)

	plenMatch, plenWC := tr.Query(0xFFFFFFFF)
	if plenMatch != 0 {
		t.Fatalf("plenMatch = %d, want 0 for a /0", plenMatch)
	}
	if plenWC != 0 {
		t.Fatalf("plenWC = %d, want 0: a /0 rule examines no bits of the address", plenWC)
	}
}

func TestPlenWCTracksDivergence(t *testing.T) {
	tr := New(32)
	tr.Insert(0xC0A80000, 24)

	_, plenWC := tr.Query(0xC0A90000) // second octet diverges at bit 15
	if plenWC != 16 {
		t.Fatalf("plenWC = %d, want 16 (divergence bit 15, plus the bit that detected it)", plenWC)
	}
}

func TestQueryCountsTheDecidingBitOnAMissingChild(t *testing.T) {
	tr := New(8)
	tr.Insert(0x80, 1)

	plenMatch, plenWC := tr.Query(0x00)
	if plenMatch != 0 {
		t.Fatalf("plenMatch = %d, want 0: 0x00 does not match the /1 rooted at 0x80", plenMatch)
	}
	if plenWC != 1 {
		t.Fatalf("plenWC = %d, want 1: bit 0 was read to learn there is no match", plenWC)
	}

	plenMatch, _ = tr.Query(0x80)
	if plenMatch != 1 {
		t.Fatalf("plenMatch = %d, want 1: 0x80 matches the inserted /1", plenMatch)
	}
}
