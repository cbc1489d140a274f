package encryption

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/nacl/box"

	. "github.com/smartystreets/goconvey/convey"
)

type testPair struct {
	pub, sec string
}

func newTestPair() testPair {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return testPair{pub: EncodeKey(p), sec: EncodeKey(s)}
}

func TestSealUnseal(t *testing.T) {
	a, b, c := newTestPair(), newTestPair(), newTestPair()

	Convey("Round trip", t, func() {
		sealed, err := Seal("hello", b.pub, a.sec)
		So(err, ShouldBeNil)

		plain, err := Unseal(sealed, a.pub, b.sec)
		So(err, ShouldBeNil)
		So(plain, ShouldEqual, "hello")

		Convey("the sender opens its own message with the recipient's key", func() {
			plain, err := Unseal(sealed, b.pub, a.sec)
			So(err, ShouldBeNil)
			So(plain, ShouldEqual, "hello")
		})

		Convey("empty and unicode plaintext", func() {
			for _, p := range []string{"", "héllo 👋", strings.Repeat("x", 4096)} {
				sealed, err := Seal(p, b.pub, a.sec)
				So(err, ShouldBeNil)
				got, err := Unseal(sealed, a.pub, b.sec)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, p)
			}
		})

		Convey("image URLs are just content", func() {
			url := "https://cdn.example.com/u/42/cat.png?sig=a:b"
			sealed, err := Seal(url, b.pub, a.sec)
			So(err, ShouldBeNil)
			got, err := Unseal(sealed, a.pub, b.sec)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, url)
		})
	})

	Convey("Wrong key material", t, func() {
		sealed, err := Seal("hello", b.pub, a.sec)
		So(err, ShouldBeNil)

		_, err = Unseal(sealed, c.pub, b.sec)
		So(err, ShouldEqual, ErrAuthenticationFailure)

		_, err = Unseal(sealed, a.pub, c.sec)
		So(err, ShouldEqual, ErrAuthenticationFailure)

		Convey("non-complementary pairing does not open", func() {
			_, err = Unseal(sealed, b.pub, b.sec)
			So(err, ShouldEqual, ErrAuthenticationFailure)
			_, err = Unseal(sealed, a.pub, a.sec)
			So(err, ShouldEqual, ErrAuthenticationFailure)
		})
	})

	Convey("Tampering", t, func() {
		sealed, err := Seal("hello", b.pub, a.sec)
		So(err, ShouldBeNil)

		nonce, ct, err := unpack(sealed)
		So(err, ShouldBeNil)
		ct[len(ct)-1] ^= 0x01
		_, err = Unseal(pack(nonce[:], ct), a.pub, b.sec)
		So(err, ShouldEqual, ErrAuthenticationFailure)

		nonce[0] ^= 0x01
		ct[len(ct)-1] ^= 0x01
		_, err = Unseal(pack(nonce[:], ct), a.pub, b.sec)
		So(err, ShouldEqual, ErrAuthenticationFailure)
	})

	Convey("Nonce uniqueness", t, func() {
		first, err := Seal("same", b.pub, a.sec)
		So(err, ShouldBeNil)
		second, err := Seal("same", b.pub, a.sec)
		So(err, ShouldBeNil)
		So(first, ShouldNotEqual, second)

		n1, _, _ := strings.Cut(first, ":")
		n2, _, _ := strings.Cut(second, ":")
		So(n1, ShouldNotEqual, n2)
	})

	Convey("Malformed payloads", t, func() {
		valid, err := Seal("hello", b.pub, a.sec)
		So(err, ShouldBeNil)
		n, c, _ := strings.Cut(valid, ":")

		for _, p := range []string{
			"",
			"not-a-valid-payload",
			":",
			n + ":",
			":" + c,
			"!!!:" + c,
			n + ":***",
			"AAAA:" + c,
			n + ":AAAA",
		} {
			_, err := Unseal(p, a.pub, b.sec)
			So(err, ShouldEqual, ErrMalformedPayload)
			So(IsSealed(p), ShouldBeFalse)
		}
		So(IsSealed(valid), ShouldBeTrue)
	})

	Convey("Invalid keys", t, func() {
		_, err := Seal("hello", "short", a.sec)
		So(errors.Is(err, ErrInvalidKey), ShouldBeTrue)

		sealed, _ := Seal("hello", b.pub, a.sec)
		_, err = Unseal(sealed, a.pub, "")
		So(errors.Is(err, ErrInvalidKey), ShouldBeTrue)
	})
}
