package persist

import "testing"

func TestNoopWhenCommandEmpty(t *testing.T) {
	h := New("")
	h.run = func(command string, args []string, stdin byte) error {
		t.Fatal("hook subprocess invoked with no command configured")
		return nil
	}
	h.OnSave()
	h.OnRecall()
	h.OnErase()
	h.OnEraseAll()
}

func TestTransitionsSendCorrectCharacter(t *testing.T) {
	h := New("retain-hook")
	var got []byte
	h.run = func(command string, args []string, stdin byte) error {
		got = append(got, stdin)
		return nil
	}

	h.OnSave()
	h.OnRecall()
	h.OnErase()
	h.OnEraseAll()

	want := []byte{'S', 'R', 'E', 'X'}
	if len(got) != len(want) {
		t.Fatalf("got %d invocations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invocation %d = %q, want %q", i, got[i], want[i])
		}
	}
}
