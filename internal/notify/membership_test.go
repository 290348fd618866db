package notify

import (
	"sort"
	"testing"
)

func sortedInt64(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestMembershipProjectorJoinAndMembers(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Join(7, 2)

	got := sortedInt64(p.Members(7))
	want := []int64{1, 2}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Members(7) = %v, want %v", got, want)
	}
}

func TestMembershipProjectorLeave(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Join(7, 2)
	p.Leave(7, 1)

	got := p.Members(7)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Members(7) = %v, want [2]", got)
	}
}

func TestMembershipProjectorMembersExcept(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Join(7, 2)
	p.Join(7, 3)

	got := sortedInt64(p.MembersExcept(7, 2))
	want := []int64{1, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("MembersExcept(7, 2) = %v, want %v", got, want)
	}
}

func TestMembershipProjectorSharesChatWith(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Join(7, 2)
	p.Join(8, 3)

	if !p.SharesChatWith(1, 2) {
		t.Error("expected 1 and 2 to share chat 7")
	}
	if p.SharesChatWith(1, 3) {
		t.Error("expected 1 and 3 to share no chat")
	}
}

func TestMembershipProjectorUsersSharingChatsWith(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Join(7, 2)
	p.Join(8, 1)
	p.Join(8, 3)

	got := sortedInt64(p.UsersSharingChatsWith(1))
	want := []int64{2, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("UsersSharingChatsWith(1) = %v, want %v", got, want)
	}
}

func TestMembershipProjectorLeaveLastMemberCleansUpChat(t *testing.T) {
	t.Parallel()
	p := NewMembershipProjector()
	p.Join(7, 1)
	p.Leave(7, 1)

	if got := p.Members(7); len(got) != 0 {
		t.Fatalf("Members(7) = %v, want empty after last member leaves", got)
	}
	if got := p.UsersSharingChatsWith(1); len(got) != 0 {
		t.Fatalf("UsersSharingChatsWith(1) = %v, want empty", got)
	}
}
