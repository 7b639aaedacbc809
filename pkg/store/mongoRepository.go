package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/sbtg-data/flowmirror/schema"
)

const (
	flowCollection      = "flows"
	userCollection      = "users"
	flowErrorCollection = "errors"
)

// NewMongoStores builds the repository set backed by a Mongo database.
func NewMongoStores(client *mongo.Client, database string) Stores {
	return Stores{
		Flows:      &MongoFlowRepository{client: client, database: database},
		Users:      &MongoUserRepository{client: client, database: database},
		FlowErrors: &MongoFlowErrorRepository{client: client, database: database},
	}
}

type MongoFlowRepository struct {
	client   *mongo.Client
	database string
}

func (m *MongoFlowRepository) collection() *mongo.Collection {
	return m.client.Database(m.database).Collection(flowCollection)
}

func (m *MongoFlowRepository) FindByID(ctx context.Context, id string) (*schema.Flow, error) {
	var flow schema.Flow
	err := m.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&flow)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

func (m *MongoFlowRepository) FindByOwnerEmail(ctx context.Context, ownerEmail string) ([]schema.Flow, error) {
	return m.find(ctx, "FindByOwnerEmail", bson.M{"owner_email": ownerEmail})
}

func (m *MongoFlowRepository) FindByUserID(ctx context.Context, userID string) ([]schema.Flow, error) {
	return m.find(ctx, "FindByUserID", bson.M{"user_id": userID})
}

func (m *MongoFlowRepository) FindAll(ctx context.Context) ([]schema.Flow, error) {
	return m.find(ctx, "FindAll", bson.M{})
}

func (m *MongoFlowRepository) find(ctx context.Context, spanName string, filter bson.M) ([]schema.Flow, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.collection().Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var flows []schema.Flow
	if err := cursor.All(ctx, &flows); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", spanName, len(flows), time.Since(startTime))

	return flows, nil
}

func (m *MongoFlowRepository) Save(ctx context.Context, flow *schema.Flow) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SaveFlow")
	defer span.End()

	if flow.ID == "" {
		flow.ID = primitive.NewObjectID().Hex()
	}
	flow.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection().ReplaceOne(ctx, bson.M{"_id": flow.ID}, flow, opts)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *MongoFlowRepository) Delete(ctx context.Context, id string) error {
	_, err := m.collection().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

type MongoUserRepository struct {
	client   *mongo.Client
	database string
}

func (m *MongoUserRepository) collection() *mongo.Collection {
	return m.client.Database(m.database).Collection(userCollection)
}

func (m *MongoUserRepository) FindByID(ctx context.Context, id string) (*schema.User, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*schema.User, error) {
	return m.findOne(ctx, bson.M{"email": email})
}

func (m *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*schema.User, error) {
	var user schema.User
	err := m.collection().FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (m *MongoUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	count, err := m.collection().CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *MongoUserRepository) FindAll(ctx context.Context) ([]schema.User, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FindAllUsers")
	defer span.End()

	startTime := time.Now()

	cursor, err := m.collection().Find(ctx, bson.M{})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []schema.User
	if err := cursor.All(ctx, &users); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", "FindAllUsers", len(users), time.Since(startTime))

	return users, nil
}

func (m *MongoUserRepository) Save(ctx context.Context, user *schema.User) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SaveUser")
	defer span.End()

	if user.ID == "" {
		user.ID = primitive.NewObjectID().Hex()
	}

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection().ReplaceOne(ctx, bson.M{"_id": user.ID}, user, opts)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *MongoUserRepository) Delete(ctx context.Context, id string) error {
	_, err := m.collection().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

type MongoFlowErrorRepository struct {
	client   *mongo.Client
	database string
}

func (m *MongoFlowErrorRepository) collection() *mongo.Collection {
	return m.client.Database(m.database).Collection(flowErrorCollection)
}

func (m *MongoFlowErrorRepository) FindByID(ctx context.Context, id string) (*schema.FlowError, error) {
	var flowError schema.FlowError
	err := m.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&flowError)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flowError, nil
}

func (m *MongoFlowErrorRepository) FindByFlowID(ctx context.Context, flowID string) ([]schema.FlowError, error) {
	return m.find(ctx, "FindErrorsByFlowID", bson.M{"flow_id": flowID})
}

func (m *MongoFlowErrorRepository) FindAll(ctx context.Context) ([]schema.FlowError, error) {
	return m.find(ctx, "FindAllErrors", bson.M{})
}

func (m *MongoFlowErrorRepository) find(ctx context.Context, spanName string, filter bson.M) ([]schema.FlowError, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
	cursor, err := m.collection().Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var flowErrors []schema.FlowError
	if err := cursor.All(ctx, &flowErrors); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", spanName, len(flowErrors), time.Since(startTime))

	return flowErrors, nil
}

func (m *MongoFlowErrorRepository) Save(ctx context.Context, flowError *schema.FlowError) error {
	if flowError.ID == "" {
		flowError.ID = primitive.NewObjectID().Hex()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection().ReplaceOne(ctx, bson.M{"_id": flowError.ID}, flowError, opts)
	return err
}

func (m *MongoFlowErrorRepository) Delete(ctx context.Context, id string) error {
	_, err := m.collection().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *MongoFlowErrorRepository) DeleteByFlowID(ctx context.Context, flowID string) error {
	_, err := m.collection().DeleteMany(ctx, bson.M{"flow_id": flowID})
	return err
}
