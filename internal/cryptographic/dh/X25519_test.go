package dh

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestX25519(t *testing.T) {
	Convey("PublicFromSecret matches generated pairs", t, func() {
		priv, pub, err := NewX25519KeyPair()
		So(err, ShouldBeNil)

		derived, err := PublicFromSecret(priv)
		So(err, ShouldBeNil)
		So(derived, ShouldResemble, pub)
		So(Matches(priv, pub), ShouldBeTrue)

		_, other, err := NewX25519KeyPair()
		So(err, ShouldBeNil)
		So(Matches(priv, other), ShouldBeFalse)
	})
}
