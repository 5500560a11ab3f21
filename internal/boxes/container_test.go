package boxes

import (
	"errors"
	"testing"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

const listing = `ID           | NAME                 | STATUS             | IMAGE
d24405b14180 | ubuntu               | Created            | ghcr.io/ublue-os/ubuntu-toolbox:latest
7a1c0e9f2b33 | fedora               | Up 2 hours         | registry.fedoraproject.org/fedora-toolbox:40

`

func TestParseList(t *testing.T) {
	testlog.Start(t)
	got, err := ParseList([]byte(listing))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(got))
	}
	want := Container{ID: "d24405b14180", Name: "ubuntu", Status: "Created", Image: "ghcr.io/ublue-os/ubuntu-toolbox:latest"}
	if got[0] != want {
		t.Fatalf("unexpected first row\nwant: %+v\ngot:  %+v", want, got[0])
	}
	if got[1].State() != StateUp || got[0].State() != StateCreated {
		t.Fatalf("unexpected states %s %s", got[0].State(), got[1].State())
	}
}

func TestParseListHeaderOnly(t *testing.T) {
	testlog.Start(t)
	got, err := ParseList([]byte("ID | NAME | STATUS | IMAGE\n"))
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", got, err)
	}
	if got, err := ParseList(nil); err != nil || len(got) != 0 {
		t.Fatalf("expected empty list for no output, got %v err=%v", got, err)
	}
}

func TestParseListRejectsMalformedRows(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"short row":   "ID | NAME | STATUS | IMAGE\nabc | name | Up\n",
		"empty field": "ID | NAME | STATUS | IMAGE\nabc |  | Up | img\n",
		"extra field": "ID | NAME | STATUS | IMAGE\na | b | c | d | e\n",
	}
	for name, input := range cases {
		if _, err := ParseList([]byte(input)); !errors.Is(err, ErrMalformedRow) {
			t.Fatalf("%s: expected ErrMalformedRow, got %v", name, err)
		}
	}
}

func TestContainerStateOther(t *testing.T) {
	testlog.Start(t)
	if got := (Container{Status: "Exited (0) 3 days ago"}).State(); got != StateExited {
		t.Fatalf("expected exited, got %s", got)
	}
	if got := (Container{Status: "Paused"}).State(); got != StateOther {
		t.Fatalf("expected other, got %s", got)
	}
}
