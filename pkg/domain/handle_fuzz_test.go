//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseHandle checks that handle parsing never panics on arbitrary input
// and that every accepted value round-trips unchanged.
func FuzzParseHandle(f *testing.F) {
	f.Add("")
	f.Add("onyx-7f3c9a")
	f.Add("void-2a9f01c3")
	f.Add("onyx-")
	f.Add("'; DROP TABLE identities;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("onyx-7f3c9a\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		h, err := ParseHandle(input)
		if err != nil {
			return
		}
		roundTrip, err2 := ParseHandle(h.String())
		if err2 != nil {
			t.Errorf("accepted handle failed round-trip: %v", err2)
		}
		if roundTrip != h {
			t.Error("round-trip changed handle value")
		}
		if len(h.String()) > 64 {
			t.Error("accepted handle exceeds length bound")
		}
	})
}
