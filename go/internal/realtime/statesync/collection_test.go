package statesync

import "testing"

func TestMapCollection_AddChangeRemove(t *testing.T) {
	c := NewMapCollection[string, Station]()

	var added, removed []string
	var changes []Station
	c.OnAdd(func(k string, v Station) {
		added = append(added, k)
		c.OnChange(k, func(v Station) { changes = append(changes, v) })
	})
	c.OnRemove(func(k string, v Station) { removed = append(removed, k) })

	c.Set("s1", Station{})
	c.Set("s1", Station{ClaimedBy: "p1"})
	c.Set("s2", Station{})

	if len(added) != 2 || added[0] != "s1" || added[1] != "s2" {
		t.Fatalf("added = %v, want [s1 s2]", added)
	}
	if len(changes) != 1 || changes[0].ClaimedBy != "p1" {
		t.Fatalf("changes = %+v, want one change claimed by p1", changes)
	}

	if !c.Delete("s1") {
		t.Fatal("Delete(s1) = false, want true")
	}
	if c.Delete("s1") {
		t.Error("second Delete(s1) = true, want false")
	}
	if len(removed) != 1 || removed[0] != "s1" {
		t.Errorf("removed = %v, want [s1]", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestMapCollection_ForEachInsertionOrder(t *testing.T) {
	c := NewMapCollection[string, Player]()
	for _, k := range []string{"c", "a", "b"} {
		c.Set(k, Player{Username: k})
	}
	c.Delete("a")
	c.Set("a", Player{Username: "a2"})

	var got []string
	c.ForEach(func(k string, v Player) { got = append(got, k) })

	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ForEach[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMapCollection_ChangeHandlersDroppedOnRemove(t *testing.T) {
	c := NewMapCollection[string, Player]()
	c.Set("p", Player{})

	calls := 0
	c.OnChange("p", func(Player) { calls++ })
	c.Delete("p")
	c.Set("p", Player{})
	c.Set("p", Player{X: 1})

	if calls != 0 {
		t.Errorf("stale change handler called %d times", calls)
	}
}
