package config

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadServer(t *testing.T) {
	Convey("Server config reads the environment with defaults", t, func() {
		t.Setenv("CHAT_ADDR", "")
		t.Setenv("JWT_SECRET", "")
		t.Setenv("TOKEN_TTL", "")
		t.Setenv("REDIS_DB", "")

		cfg := LoadServer()
		So(cfg.Addr, ShouldEqual, "localhost:9090")
		So(cfg.Storage, ShouldEqual, "mongo")
		So(cfg.JWTSecret, ShouldEqual, devJWTSecret)
		So(cfg.TokenTTL, ShouldEqual, 7*24*time.Hour)

		Convey("and honours overrides", func() {
			t.Setenv("CHAT_ADDR", ":8080")
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv("TOKEN_TTL", "2h")
			t.Setenv("REDIS_DB", "3")

			cfg := LoadServer()
			So(cfg.Addr, ShouldEqual, ":8080")
			So(cfg.JWTSecret, ShouldEqual, "s3cret")
			So(cfg.TokenTTL, ShouldEqual, 2*time.Hour)
			So(cfg.RedisDB, ShouldEqual, 3)
		})

		Convey("bad numbers fall back", func() {
			t.Setenv("TOKEN_TTL", "soon")
			t.Setenv("REDIS_DB", "x")

			cfg := LoadServer()
			So(cfg.TokenTTL, ShouldEqual, 7*24*time.Hour)
			So(cfg.RedisDB, ShouldEqual, 0)
		})
	})
}

func TestLoadClient(t *testing.T) {
	Convey("Client config points at the local relay by default", t, func() {
		t.Setenv("CHAT_SERVER", "")
		t.Setenv("CHAT_KEYRING", "/tmp/kr.json")

		cfg := LoadClient()
		So(cfg.ServerURL, ShouldEqual, "http://localhost:9090")
		So(cfg.KeyringPath, ShouldEqual, "/tmp/kr.json")
	})
}
