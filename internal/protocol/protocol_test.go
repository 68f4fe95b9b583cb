package protocol

import "testing"

func TestValidUsername(t *testing.T) {
	valid := []string{"ab", "alice", "Alice_99", "a_b_c", "x1234567890123456789"}
	for _, name := range valid {
		if !ValidUsername(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}

	invalid := []string{"", "a", "has space", "too_long_username_over_20", "p|pe", "dash-ed", "émile"}
	for _, name := range invalid {
		if ValidUsername(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestParsePrivateCommand(t *testing.T) {
	rcpt, content, ok := ParsePrivateCommand("/msg bob hello there")
	if !ok {
		t.Fatal("expected command to parse")
	}
	if rcpt != "bob" {
		t.Errorf("expected recipient bob, got %q", rcpt)
	}
	if content != "hello there" {
		t.Errorf("expected content 'hello there', got %q", content)
	}

	for _, bad := range []string{"/msg", "/msg bob", "hello /msg bob hi"} {
		if _, _, ok := ParsePrivateCommand(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}

	if IsPrivateCommand("plain message") {
		t.Error("plain message misdetected as private command")
	}
}

func TestUserListRoundTrip(t *testing.T) {
	users := []string{"alice", "bob", "carol"}
	got := SplitUserList(JoinUserList(users))
	if len(got) != 3 {
		t.Fatalf("expected 3 users, got %d", len(got))
	}
	for i, u := range users {
		if got[i] != u {
			t.Errorf("index %d: expected %s, got %s", i, u, got[i])
		}
	}

	if got := SplitUserList(""); len(got) != 0 {
		t.Errorf("empty list should parse to no users, got %v", got)
	}
}
