package directory

import (
	"context"
	"errors"
	"testing"

	"boxchat/internal/model"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	responses []*model.UsersResponse
	calls     int
	err       error
	uploaded  []string
}

func (f *fakeSource) Users(context.Context) (*model.UsersResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeSource) UploadKey(_ context.Context, publicKey string) error {
	f.uploaded = append(f.uploaded, publicKey)
	return nil
}

func users(us ...model.User) *model.UsersResponse {
	return &model.UsersResponse{Users: us, UnseenMessages: map[string]int{}}
}

func TestResolvePublicKey(t *testing.T) {
	ctx := context.Background()

	Convey("Cache hits do not touch the relay", t, func() {
		src := &fakeSource{responses: []*model.UsersResponse{users(model.User{ID: "b", PublicKey: "kb"})}}
		d := New(src)
		_, err := d.Refresh(ctx)
		So(err, ShouldBeNil)

		key, err := d.ResolvePublicKey(ctx, "b")
		So(err, ShouldBeNil)
		So(key, ShouldEqual, "kb")
		So(src.calls, ShouldEqual, 1)
	})

	Convey("A miss refetches exactly once", t, func() {
		src := &fakeSource{responses: []*model.UsersResponse{
			users(model.User{ID: "b"}),
			users(model.User{ID: "b", PublicKey: "kb"}),
		}}
		d := New(src)
		_, _ = d.Refresh(ctx)

		key, err := d.ResolvePublicKey(ctx, "b")
		So(err, ShouldBeNil)
		So(key, ShouldEqual, "kb")
		So(src.calls, ShouldEqual, 2)

		Convey("and the refreshed key is cached", func() {
			_, err := d.ResolvePublicKey(ctx, "b")
			So(err, ShouldBeNil)
			So(src.calls, ShouldEqual, 2)
		})
	})

	Convey("A miss that survives the retry is NotFound", t, func() {
		src := &fakeSource{responses: []*model.UsersResponse{users(model.User{ID: "b"})}}
		d := New(src)

		_, err := d.ResolvePublicKey(ctx, "b")
		So(err, ShouldEqual, ErrNotFound)
		So(src.calls, ShouldEqual, 1)

		_, err = d.ResolvePublicKey(ctx, "nobody")
		So(err, ShouldEqual, ErrNotFound)
		So(src.calls, ShouldEqual, 2)
	})

	Convey("Transport errors surface unchanged", t, func() {
		boom := errors.New("boom")
		d := New(&fakeSource{err: boom})
		_, err := d.ResolvePublicKey(ctx, "b")
		So(err, ShouldEqual, boom)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	Convey("Refresh replaces users and returns the unseen snapshot", t, func() {
		src := &fakeSource{responses: []*model.UsersResponse{
			{
				Users:            []model.User{{ID: "b", PublicKey: "kb"}, {ID: "c", PublicKey: "kc"}},
				UnseenMessages:   map[string]int{"b": 2, "c": 0},
				UnseenMessageIDs: map[string][]string{"b": {"m1", "m2"}},
			},
			users(model.User{ID: "c", PublicKey: "kc"}),
		}}
		d := New(src)

		unseen, err := d.Refresh(ctx)
		So(err, ShouldBeNil)
		So(unseen, ShouldResemble, map[string][]string{"b": {"m1", "m2"}})
		So(len(d.Users()), ShouldEqual, 2)
		So(d.Users()[0].ID, ShouldEqual, "b")

		_, err = d.Refresh(ctx)
		So(err, ShouldBeNil)
		_, ok := d.User("b")
		So(ok, ShouldBeFalse)
	})

	Convey("Senders reported only by count still show up", t, func() {
		src := &fakeSource{responses: []*model.UsersResponse{{
			Users:          []model.User{{ID: "b", PublicKey: "kb"}},
			UnseenMessages: map[string]int{"b": 2},
		}}}
		d := New(src)

		unseen, err := d.Refresh(ctx)
		So(err, ShouldBeNil)
		So(len(unseen["b"]), ShouldEqual, 2)
		So(unseen["b"][0], ShouldNotEqual, unseen["b"][1])
	})

	Convey("UploadLocalPublicKey is a plain overwrite", t, func() {
		src := &fakeSource{}
		d := New(src)
		So(d.UploadLocalPublicKey(ctx, "k1"), ShouldBeNil)
		So(d.UploadLocalPublicKey(ctx, "k1"), ShouldBeNil)
		So(src.uploaded, ShouldResemble, []string{"k1", "k1"})
	})
}
