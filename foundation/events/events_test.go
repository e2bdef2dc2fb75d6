package events_test

import (
	"testing"

	"github.com/ardanlabs/powledger/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Send(t *testing.T) {
	t.Log("Given the need to stream node events to clients.")
	{
		evts := events.New()

		ch := evts.Acquire("client1")
		if again := evts.Acquire("client1"); again != ch {
			t.Fatalf("\t%s\tShould get the same channel for the same id.", failed)
		}
		t.Logf("\t%s\tShould get the same channel for the same id.", success)

		evts.Send("state: AddBlock: blk[1]: accepted")
		evts.Send(`viewer: block: {"index":1}`)

		select {
		case msg := <-ch:
			if msg != `block: {"index":1}` {
				t.Logf("\t\tgot: %s", msg)
				t.Logf("\t\texp: %s", `block: {"index":1}`)
				t.Fatalf("\t%s\tShould receive only viewer events without the prefix.", failed)
			}
		default:
			t.Fatalf("\t%s\tShould receive the viewer event.", failed)
		}
		t.Logf("\t%s\tShould receive only viewer events without the prefix.", success)

		if err := evts.Release("client1"); err != nil {
			t.Fatalf("\t%s\tShould be able to release the channel: %s", failed, err)
		}
		if _, open := <-ch; open {
			t.Fatalf("\t%s\tShould close the released channel.", failed)
		}
		t.Logf("\t%s\tShould close the released channel.", success)

		if err := evts.Release("client1"); err == nil {
			t.Fatalf("\t%s\tShould not release an unknown id.", failed)
		}
		t.Logf("\t%s\tShould not release an unknown id.", success)

		evts.Acquire("client2")
		evts.Shutdown()
		if evts.Count() != 0 {
			t.Fatalf("\t%s\tShould remove every client on shutdown.", failed)
		}
		t.Logf("\t%s\tShould remove every client on shutdown.", success)
	}
}
