package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/petsync/pkg/action"
	"github.com/zoff-tech/petsync/pkg/model"
)

// MongoRepository implements OfflineStore on a mongo database running on the
// same host as the agent.
type MongoRepository struct {
	client   *mongo.Client
	database string
}

func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{client: client, database: database}
}

func (m *MongoRepository) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

type mongoAction struct {
	ID         string    `bson:"_id"`
	Type       string    `bson:"action_type"`
	Payload    []byte    `bson:"payload"`
	Status     string    `bson:"status"`
	RetryCount int       `bson:"retry_count"`
	LastError  string    `bson:"last_error"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (m *MongoRepository) QueueAction(ctx context.Context, p action.Payload) (string, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "QueueAction")
	defer span.End()

	payload, err := action.Encode(p)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	uid, err := uuid.NewV7()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to generate action id: %w", err)
	}
	doc := mongoAction{
		ID:        uid.String(),
		Type:      string(p.ActionType()),
		Payload:   payload,
		Status:    string(action.StatusPending),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := m.collection("queued_actions").InsertOne(ctx, doc); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to queue action: %w", err)
	}
	return doc.ID, nil
}

func (m *MongoRepository) fetchActions(ctx context.Context, op string, status action.Status) ([]action.QueuedAction, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection("queued_actions").Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var actions []action.QueuedAction
	for cursor.Next(ctx) {
		var doc mongoAction
		if err := cursor.Decode(&doc); err != nil {
			span.RecordError(err)
			return nil, err
		}
		actions = append(actions, action.QueuedAction{
			ID:         doc.ID,
			Type:       action.Type(doc.Type),
			Payload:    doc.Payload,
			Status:     action.Status(doc.Status),
			RetryCount: doc.RetryCount,
			LastError:  doc.LastError,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return actions, cursor.Err()
}

func (m *MongoRepository) FetchPendingActions(ctx context.Context) ([]action.QueuedAction, error) {
	return m.fetchActions(ctx, "FetchPendingActions", action.StatusPending)
}

func (m *MongoRepository) FetchFailedActions(ctx context.Context) ([]action.QueuedAction, error) {
	return m.fetchActions(ctx, "FetchFailedActions", action.StatusFailed)
}

func (m *MongoRepository) CompleteAction(ctx context.Context, id string) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "CompleteAction")
	defer span.End()

	// DeleteOne on a missing id matches zero documents, the intended no-op.
	if _, err := m.collection("queued_actions").DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *MongoRepository) FailAction(ctx context.Context, id, errMsg string, incrementRetry bool) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "FailAction")
	defer span.End()

	var doc mongoAction
	err := m.collection("queued_actions").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	retryCount := doc.RetryCount
	if incrementRetry {
		retryCount++
	}
	if retryCount >= retryCeiling {
		_, err = m.collection("queued_actions").DeleteOne(ctx, bson.M{"_id": id})
	} else {
		_, err = m.collection("queued_actions").UpdateOne(ctx, bson.M{"_id": id}, bson.M{
			"$set": bson.M{"status": string(action.StatusFailed), "retry_count": retryCount, "last_error": errMsg},
		})
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *MongoRepository) RetryAction(ctx context.Context, id string) error {
	_, err := m.collection("queued_actions").UpdateOne(ctx,
		bson.M{"_id": id, "status": string(action.StatusFailed)},
		bson.M{"$set": bson.M{"status": string(action.StatusPending), "last_error": ""}})
	return err
}

func (m *MongoRepository) RetryAllFailedActions(ctx context.Context) error {
	_, err := m.collection("queued_actions").UpdateMany(ctx,
		bson.M{"status": string(action.StatusFailed)},
		bson.M{"$set": bson.M{"status": string(action.StatusPending), "last_error": ""}})
	return err
}

func (m *MongoRepository) DismissAction(ctx context.Context, id string) error {
	_, err := m.collection("queued_actions").DeleteOne(ctx,
		bson.M{"_id": id, "status": string(action.StatusFailed)})
	return err
}

func (m *MongoRepository) DismissAllFailedActions(ctx context.Context) error {
	_, err := m.collection("queued_actions").DeleteMany(ctx, bson.M{"status": string(action.StatusFailed)})
	return err
}

func (m *MongoRepository) upsert(ctx context.Context, op, coll, id string, doc any) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

type mongoPet struct {
	ID           string    `bson:"_id"`
	Pet          model.Pet `bson:"pet"`
	LastSyncedAt time.Time `bson:"last_synced_at"`
	Name         string    `bson:"name"`
}

type mongoAlert struct {
	ID           string      `bson:"_id"`
	Alert        model.Alert `bson:"alert"`
	PetID        string      `bson:"pet_id"`
	LastSyncedAt time.Time   `bson:"last_synced_at"`
	CreatedAt    time.Time   `bson:"created_at"`
}

type mongoStory struct {
	ID           string             `bson:"_id"`
	Story        model.SuccessStory `bson:"story"`
	Public       bool               `bson:"public"`
	Confirmed    bool               `bson:"confirmed"`
	LastSyncedAt time.Time          `bson:"last_synced_at"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func (m *MongoRepository) SavePet(ctx context.Context, p model.Pet) error {
	p.LastSyncedAt = time.Now().UTC()
	return m.upsert(ctx, "SavePet", "pets", p.ID,
		mongoPet{ID: p.ID, Pet: p, LastSyncedAt: p.LastSyncedAt, Name: p.Name})
}

func (m *MongoRepository) SaveAlert(ctx context.Context, a model.Alert) error {
	a.LastSyncedAt = time.Now().UTC()
	return m.upsert(ctx, "SaveAlert", "alerts", a.ID,
		mongoAlert{ID: a.ID, Alert: a, PetID: a.PetID, LastSyncedAt: a.LastSyncedAt, CreatedAt: a.CreatedAt})
}

func (m *MongoRepository) SaveSuccessStory(ctx context.Context, s model.SuccessStory) error {
	s.LastSyncedAt = time.Now().UTC()
	return m.upsert(ctx, "SaveSuccessStory", "success_stories", s.ID,
		mongoStory{ID: s.ID, Story: s, Public: s.Public, Confirmed: s.Confirmed, LastSyncedAt: s.LastSyncedAt, CreatedAt: s.CreatedAt})
}

func (m *MongoRepository) DeletePet(ctx context.Context, id string) error {
	_, err := m.collection("pets").DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *MongoRepository) DeleteAlert(ctx context.Context, id string) error {
	_, err := m.collection("alerts").DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *MongoRepository) FetchPets(ctx context.Context) ([]model.Pet, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := m.collection("pets").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var pets []model.Pet
	for cursor.Next(ctx) {
		var doc mongoPet
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		doc.Pet.LastSyncedAt = doc.LastSyncedAt
		pets = append(pets, doc.Pet)
	}
	return pets, cursor.Err()
}

func (m *MongoRepository) FetchPet(ctx context.Context, id string) (*model.Pet, error) {
	var doc mongoPet
	err := m.collection("pets").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.Pet.LastSyncedAt = doc.LastSyncedAt
	return &doc.Pet, nil
}

func (m *MongoRepository) fetchAlerts(ctx context.Context, filter bson.M) ([]model.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection("alerts").Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var alerts []model.Alert
	for cursor.Next(ctx) {
		var doc mongoAlert
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		doc.Alert.LastSyncedAt = doc.LastSyncedAt
		alerts = append(alerts, doc.Alert)
	}
	return alerts, cursor.Err()
}

func (m *MongoRepository) FetchAlerts(ctx context.Context) ([]model.Alert, error) {
	return m.fetchAlerts(ctx, bson.M{})
}

func (m *MongoRepository) FetchAlertsForPet(ctx context.Context, petID string) ([]model.Alert, error) {
	return m.fetchAlerts(ctx, bson.M{"pet_id": petID})
}

func (m *MongoRepository) FetchSuccessStories(ctx context.Context, publicOnly bool) ([]model.SuccessStory, error) {
	filter := bson.M{}
	if publicOnly {
		filter = bson.M{"public": true, "confirmed": true}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection("success_stories").Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stories []model.SuccessStory
	for cursor.Next(ctx) {
		var doc mongoStory
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		doc.Story.LastSyncedAt = doc.LastSyncedAt
		stories = append(stories, doc.Story)
	}
	return stories, cursor.Err()
}

func (m *MongoRepository) ClearAllData(ctx context.Context) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "ClearAllData")
	defer span.End()

	// Collection drops inside one session; mongo cannot drop four collections
	// in a single transaction on a standalone server, so the drops run in a
	// fixed order with the queue last. A crash mid-wipe leaves cache-only
	// residue that the next full sync overwrites.
	for _, coll := range []string{"pets", "alerts", "success_stories", "queued_actions"} {
		if err := m.collection(coll).Drop(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to drop %s: %w", coll, err)
		}
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
