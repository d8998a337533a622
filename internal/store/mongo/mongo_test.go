package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

func newMockT(t *testing.T) *mtest.T {
	t.Helper()
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func TestMongoStore_Components(t *testing.T) {
	mt := newMockT(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mt.Run("create", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		err := s.CreateComponent(ctx, &model.Component{ID: "tx-1", Kind: model.KindTexts, Name: "Intro", CreatedAt: now, UpdatedAt: now})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "insert" {
			t.Fatalf("expected insert command, got %+v", started)
		}
		if coll := started.Command.Lookup("insert").StringValue(); coll != "texts" {
			t.Errorf("collection = %q, want texts", coll)
		}
	})

	mt.Run("get", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "panels.graphs", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "gr-1"},
			{Key: "name", Value: "CPU"},
			{Key: "position", Value: bson.D{{Key: "x", Value: 5.0}, {Key: "y", Value: 6.0}}},
			{Key: "size", Value: bson.D{{Key: "width", Value: 400.0}, {Key: "height", Value: 300.0}}},
			{Key: "fields", Value: `{"datasource":"ds-1"}`},
			{Key: "created_at", Value: now},
			{Key: "updated_at", Value: now},
		}))
		c, err := s.GetComponent(ctx, model.KindGraphs, "gr-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Kind != model.KindGraphs || c.Position.X != 5 || c.Size.Height != 300 {
			t.Fatalf("unexpected component: %+v", c)
		}
		var ds string
		if !c.Field("datasource", &ds) || ds != "ds-1" {
			t.Errorf("datasource = %q", ds)
		}
	})

	mt.Run("get not found", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "panels.maps", mtest.FirstBatch))
		_, err := s.GetComponent(ctx, model.KindMaps, "mp-x")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected store.ErrNotFound, got %v", err)
		}
	})

	mt.Run("set position", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: "im-1"},
			{Key: "position", Value: bson.D{{Key: "x", Value: 50.0}, {Key: "y", Value: 60.0}}},
			{Key: "size", Value: bson.D{{Key: "width", Value: 120.0}, {Key: "height", Value: 80.0}}},
		}}))
		c, err := s.SetPosition(ctx, model.KindImages, "im-1", model.Position{X: 50, Y: 60})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Position.Y != 60 || c.Size.Width != 120 {
			t.Fatalf("unexpected component: %+v", c)
		}
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		if err := s.DeleteComponent(ctx, model.KindVideos, "vd-x"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected store.ErrNotFound, got %v", err)
		}
	})

	mapDoc := func(fields string) bson.D {
		return bson.D{
			{Key: "_id", Value: "mp-1"},
			{Key: "name", Value: "Fleet"},
			{Key: "fields", Value: fields},
			{Key: "created_at", Value: now},
			{Key: "updated_at", Value: now},
		}
	}
	addIcon := func(id string) func(*model.Component) error {
		return func(c *model.Component) error {
			icons := append(model.MapIcons(c), model.MapIcon{ID: id})
			merged, err := model.MergeFields(c.Fields, map[string]any{"icons": icons})
			c.Fields = merged
			return err
		}
	}

	mt.Run("modify swaps on read state", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "panels.maps", mtest.FirstBatch, mapDoc(`{"icons":[]}`)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)
		c, err := s.ModifyComponent(ctx, model.KindMaps, "mp-1", addIcon("ic-1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(model.MapIcons(c)) != 1 {
			t.Errorf("icons = %s", c.Fields)
		}

		mt.GetStartedEvent() // find
		update := mt.GetStartedEvent()
		if update == nil || update.CommandName != "update" {
			t.Fatalf("expected update command, got %+v", update)
		}
		filter := update.Command.Lookup("updates").Array().Index(0).Value().Document().Lookup("q").Document()
		if got := filter.Lookup("fields").StringValue(); got != `{"icons":[]}` {
			t.Errorf("filter fields = %q", got)
		}
		if _, err := filter.LookupErr("updated_at"); err != nil {
			t.Error("filter does not pin updated_at")
		}
	})

	mt.Run("modify retries a lost race", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "panels.maps", mtest.FirstBatch, mapDoc(`{"icons":[]}`)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "panels.maps", mtest.FirstBatch, mapDoc(`{"icons":[{"id":"ic-0"}]}`)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)
		c, err := s.ModifyComponent(ctx, model.KindMaps, "mp-1", addIcon("ic-1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		icons := model.MapIcons(c)
		if len(icons) != 2 || icons[0].ID != "ic-0" || icons[1].ID != "ic-1" {
			t.Errorf("icons = %+v, want the concurrent icon kept", icons)
		}
	})

	mt.Run("modify callback error skips write", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "panels.maps", mtest.FirstBatch, mapDoc("")))
		errDuplicate := errors.New("duplicate icon")
		_, err := s.ModifyComponent(ctx, model.KindMaps, "mp-1", func(*model.Component) error { return errDuplicate })
		if !errors.Is(err, errDuplicate) {
			t.Fatalf("expected the callback error, got %v", err)
		}
		mt.GetStartedEvent()
		if ev := mt.GetStartedEvent(); ev != nil {
			t.Errorf("unexpected %s after a failed callback", ev.CommandName)
		}
	})
}

func TestMongoStore_Dashboards(t *testing.T) {
	mt := newMockT(t)
	ctx := context.Background()

	mt.Run("get by path", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "panels.dashboards", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "db-1"},
			{Key: "name", Value: "Ops"},
			{Key: "path", Value: "/ops"},
			{Key: "components", Value: bson.A{
				bson.D{{Key: "componentID", Value: "ch-1"}, {Key: "type", Value: "chats"}},
			}},
		}))
		d, err := s.GetDashboardByPath(ctx, "/ops")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(d.Components) != 1 || d.Components[0].Type != model.KindChats {
			t.Fatalf("unexpected dashboard: %+v", d)
		}
	})

	mt.Run("duplicate path", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))
		err := s.CreateDashboard(ctx, &model.Dashboard{ID: "db-2", Name: "Ops", Path: "/ops"})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected store.ErrConflict, got %v", err)
		}
	})

	mt.Run("attach to missing dashboard", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		err := s.AttachComponent(ctx, "db-x", model.DashboardComponent{ComponentID: "ch-1", Type: model.KindChats})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected store.ErrNotFound, got %v", err)
		}
	})

	mt.Run("detach", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		if err := s.DetachComponent(ctx, "db-1", "ch-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	mt.Run("detach everywhere", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}))
		if err := s.DetachEverywhere(ctx, "gr-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "update" {
			t.Fatalf("expected update command, got %+v", started)
		}
	})
}

func TestMongoStore_Users(t *testing.T) {
	mt := newMockT(t)
	ctx := context.Background()

	mt.Run("by email", func(mt *mtest.T) {
		s := NewWithDatabase(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "panels.users", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "u-1"},
			{Key: "email", Value: "a@example.com"},
			{Key: "password_hash", Value: "hash"},
		}))
		u, err := s.GetUserByEmail(ctx, "a@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.ID != "u-1" || u.PasswordHash != "hash" {
			t.Fatalf("unexpected user: %+v", u)
		}
	})
}
