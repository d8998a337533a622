// Package mongo implements the store.Store interface backed by MongoDB.
// Each component kind lives in its own collection; dashboards embed their
// ordered component list.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

const defaultDatabase = "panels"

// MongoStore implements store.Store backed by a MongoDB database.
type MongoStore struct {
	client *mongo.Client // nil when built from an existing database
	db     *mongo.Database
}

var _ store.Store = (*MongoStore)(nil)

// New connects to the MongoDB deployment at uri and ensures indexes exist.
// The database name comes from the URI path and defaults to "panels".
func New(ctx context.Context, uri string) (*MongoStore, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("parse mongo url: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = defaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// NewWithDatabase wraps an already connected database. Close is a no-op.
func NewWithDatabase(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.db.Collection("dashboards").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "path", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "components.componentID", Value: 1}}},
	}); err != nil {
		return err
	}
	_, err := s.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Close disconnects the client when this store owns it.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// RunInTransaction calls fn with this store. Standalone deployments have no
// multi-document transactions, so writes inside fn are not atomic.
func (s *MongoStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// mapError translates driver errors into the store sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

type componentDoc struct {
	ID        string         `bson:"_id"`
	Name      string         `bson:"name"`
	Position  model.Position `bson:"position"`
	Size      model.Size     `bson:"size"`
	Fields    string         `bson:"fields,omitempty"` // raw JSON object
	CreatedBy string         `bson:"created_by,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func toComponentDoc(c *model.Component) componentDoc {
	return componentDoc{
		ID:        c.ID,
		Name:      c.Name,
		Position:  c.Position,
		Size:      c.Size,
		Fields:    string(c.Fields),
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (d componentDoc) toModel(kind model.Kind) *model.Component {
	c := &model.Component{
		ID:        d.ID,
		Kind:      kind,
		Name:      d.Name,
		Position:  d.Position,
		Size:      d.Size,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Fields != "" {
		c.Fields = json.RawMessage(d.Fields)
	}
	return c
}

func (s *MongoStore) components(kind model.Kind) *mongo.Collection {
	return s.db.Collection(string(kind))
}

func (s *MongoStore) CreateComponent(ctx context.Context, c *model.Component) error {
	_, err := s.components(c.Kind).InsertOne(ctx, toComponentDoc(c))
	return mapError(err)
}

func (s *MongoStore) GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error) {
	var doc componentDoc
	if err := s.components(kind).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(kind), nil
}

func (s *MongoStore) ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error) {
	cur, err := s.components(kind).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	var docs []componentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	out := make([]*model.Component, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel(kind))
	}
	return out, nil
}

func (s *MongoStore) UpdateComponent(ctx context.Context, c *model.Component) error {
	c.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"name":       c.Name,
		"position":   c.Position,
		"size":       c.Size,
		"fields":     string(c.Fields),
		"updated_at": c.UpdatedAt,
	}
	var doc componentDoc
	err := s.components(c.Kind).FindOneAndUpdate(ctx, bson.M{"_id": c.ID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return mapError(err)
	}
	c.CreatedAt = doc.CreatedAt
	return nil
}

// maxModifyAttempts bounds the compare-and-swap loop in ModifyComponent.
const maxModifyAttempts = 8

// ModifyComponent applies fn with a compare-and-swap on the document: the
// write only matches while fields and updated_at still hold what was read,
// and a lost race reads again.
func (s *MongoStore) ModifyComponent(ctx context.Context, kind model.Kind, id string, fn func(c *model.Component) error) (*model.Component, error) {
	coll := s.components(kind)
	for range maxModifyAttempts {
		var doc componentDoc
		if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
			return nil, mapError(err)
		}
		c := doc.toModel(kind)
		if err := fn(c); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.Now().UTC()

		var fields any = doc.Fields
		if doc.Fields == "" {
			fields = nil
		}
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": id, "fields": fields, "updated_at": doc.UpdatedAt},
			bson.M{"$set": bson.M{
				"name":       c.Name,
				"position":   c.Position,
				"size":       c.Size,
				"fields":     string(c.Fields),
				"updated_at": c.UpdatedAt,
			}})
		if err != nil {
			return nil, mapError(err)
		}
		if res.MatchedCount == 1 {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s kept changing", store.ErrConflict, kind, id)
}

func (s *MongoStore) patchComponent(ctx context.Context, kind model.Kind, id string, set bson.M) (*model.Component, error) {
	set["updated_at"] = time.Now().UTC()
	var doc componentDoc
	err := s.components(kind).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(kind), nil
}

func (s *MongoStore) SetPosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	return s.patchComponent(ctx, kind, id, bson.M{"position": pos})
}

func (s *MongoStore) SetSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	return s.patchComponent(ctx, kind, id, bson.M{"size": size})
}

func (s *MongoStore) DeleteComponent(ctx context.Context, kind model.Kind, id string) error {
	res, err := s.components(kind).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type dashboardComponentDoc struct {
	ComponentID string `bson:"componentID"`
	Type        string `bson:"type"`
}

type dashboardDoc struct {
	ID         string                  `bson:"_id"`
	Name       string                  `bson:"name"`
	Path       string                  `bson:"path"`
	Owner      string                  `bson:"owner,omitempty"`
	Components []dashboardComponentDoc `bson:"components"`
	CreatedAt  time.Time               `bson:"created_at"`
	UpdatedAt  time.Time               `bson:"updated_at"`
}

func toDashboardComponents(in []model.DashboardComponent) []dashboardComponentDoc {
	out := make([]dashboardComponentDoc, len(in))
	for i, dc := range in {
		out[i] = dashboardComponentDoc{ComponentID: dc.ComponentID, Type: string(dc.Type)}
	}
	return out
}

func (d dashboardDoc) toModel() *model.Dashboard {
	m := &model.Dashboard{
		ID:         d.ID,
		Name:       d.Name,
		Path:       d.Path,
		Owner:      d.Owner,
		Components: make([]model.DashboardComponent, len(d.Components)),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	for i, dc := range d.Components {
		m.Components[i] = model.DashboardComponent{ComponentID: dc.ComponentID, Type: model.Kind(dc.Type)}
	}
	return m
}

func (s *MongoStore) dashboards() *mongo.Collection {
	return s.db.Collection("dashboards")
}

func (s *MongoStore) CreateDashboard(ctx context.Context, d *model.Dashboard) error {
	_, err := s.dashboards().InsertOne(ctx, dashboardDoc{
		ID:         d.ID,
		Name:       d.Name,
		Path:       d.Path,
		Owner:      d.Owner,
		Components: toDashboardComponents(d.Components),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	})
	return mapError(err)
}

func (s *MongoStore) findDashboard(ctx context.Context, filter bson.M) (*model.Dashboard, error) {
	var doc dashboardDoc
	if err := s.dashboards().FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) GetDashboard(ctx context.Context, id string) (*model.Dashboard, error) {
	return s.findDashboard(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetDashboardByPath(ctx context.Context, path string) (*model.Dashboard, error) {
	return s.findDashboard(ctx, bson.M{"path": path})
}

func (s *MongoStore) ListDashboards(ctx context.Context, owner string) ([]*model.Dashboard, error) {
	filter := bson.M{}
	if owner != "" {
		filter["owner"] = owner
	}
	cur, err := s.dashboards().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "path", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	var docs []dashboardDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode dashboards: %w", err)
	}
	out := make([]*model.Dashboard, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *MongoStore) UpdateDashboard(ctx context.Context, d *model.Dashboard) error {
	d.UpdatedAt = time.Now().UTC()
	var doc dashboardDoc
	err := s.dashboards().FindOneAndUpdate(ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
		"name":       d.Name,
		"path":       d.Path,
		"components": toDashboardComponents(d.Components),
		"updated_at": d.UpdatedAt,
	}}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return mapError(err)
	}
	d.Owner = doc.Owner
	d.CreatedAt = doc.CreatedAt
	return nil
}

func (s *MongoStore) DeleteDashboard(ctx context.Context, id string) error {
	res, err := s.dashboards().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) AttachComponent(ctx context.Context, dashboardID string, dc model.DashboardComponent) error {
	res, err := s.dashboards().UpdateOne(ctx, bson.M{"_id": dashboardID}, bson.M{
		"$addToSet": bson.M{"components": dashboardComponentDoc{ComponentID: dc.ComponentID, Type: string(dc.Type)}},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) DetachComponent(ctx context.Context, dashboardID, componentID string) error {
	res, err := s.dashboards().UpdateOne(ctx,
		bson.M{"_id": dashboardID, "components.componentID": componentID},
		bson.M{
			"$pull": bson.M{"components": bson.M{"componentID": componentID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) DetachEverywhere(ctx context.Context, componentID string) error {
	_, err := s.dashboards().UpdateMany(ctx,
		bson.M{"components.componentID": componentID},
		bson.M{"$pull": bson.M{"components": bson.M{"componentID": componentID}}})
	return err
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Name         string    `bson:"name,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (s *MongoStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.Collection("users").InsertOne(ctx, userDoc{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	})
	return mapError(err)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDoc
	if err := s.db.Collection("users").FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return &model.User{
		ID:           doc.ID,
		Email:        doc.Email,
		Name:         doc.Name,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}
