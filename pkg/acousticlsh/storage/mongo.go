package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

const (
	DefaultMongoDatabase = "acousticlsh"

	collRecordings = "recordings"
	collSignatures = "signatures"
	collCounters   = "counters"
)

// MongoStore keeps recordings and signature entries in two collections.
// Integer ids come from a counters collection.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type recordingDoc struct {
	ID          int64     `bson:"_id"`
	Title       string    `bson:"title"`
	Channels    int       `bson:"channels"`
	SampleRate  int       `bson:"sample_rate"`
	SampleWidth int       `bson:"sample_width"`
	DurationSec float64   `bson:"duration_sec"`
	WindowCount int       `bson:"window_count"`
	Checksum    string    `bson:"checksum,omitempty"`
	BatchID     string    `bson:"batch_id,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

type signatureDoc struct {
	ID          int64     `bson:"_id"`
	RecordingID int64     `bson:"recording_id"`
	Position    int       `bson:"position"`
	Vector      []float32 `bson:"vector"`
}

type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Collection(collSignatures).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recording_id", Value: 1}, {Key: "position", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("signature index: %w", err)
	}
	_, err = s.db.Collection(collRecordings).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "checksum", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("checksum index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextIDs reserves n consecutive ids from the named counter and returns the
// first one.
func (s *MongoStore) nextIDs(ctx context.Context, name string, n int) (int64, error) {
	var c counterDoc
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", name, err)
	}
	return c.Seq - int64(n) + 1, nil
}

func (s *MongoStore) PutRecording(ctx context.Context, rec models.Recording) (int64, error) {
	id, err := s.nextIDs(ctx, collRecordings, 1)
	if err != nil {
		return 0, err
	}
	rec.ID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(collRecordings).InsertOne(ctx, toRecordingDoc(rec)); err != nil {
		return 0, fmt.Errorf("inserting recording: %w", err)
	}
	return id, nil
}

func (s *MongoStore) PutSignatureEntries(ctx context.Context, recordingID int64, windows []models.SignatureWindow) ([]int64, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	if _, err := s.GetRecording(ctx, recordingID); err != nil {
		return nil, err
	}

	first, err := s.nextIDs(ctx, collSignatures, len(windows))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(windows))
	docs := make([]interface{}, len(windows))
	for i, w := range windows {
		ids[i] = first + int64(i)
		docs[i] = signatureDoc{ID: ids[i], RecordingID: recordingID, Position: i, Vector: w}
	}
	if _, err := s.db.Collection(collSignatures).InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("inserting signatures: %w", err)
	}

	_, err = s.db.Collection(collRecordings).UpdateByID(ctx, recordingID,
		bson.M{"$set": bson.M{"window_count": len(windows)}})
	if err != nil {
		return nil, fmt.Errorf("updating window count: %w", err)
	}
	return ids, nil
}

func (s *MongoStore) GetRecording(ctx context.Context, id int64) (*models.Recording, error) {
	var doc recordingDoc
	err := s.db.Collection(collRecordings).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	rec := doc.model()
	return &rec, nil
}

func (s *MongoStore) GetEntry(ctx context.Context, entryID int64) (*models.SignatureEntry, error) {
	var doc signatureDoc
	err := s.db.Collection(collSignatures).FindOne(ctx, bson.M{"_id": entryID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	e := doc.model()
	return &e, nil
}

func (s *MongoStore) GetAllEntries(ctx context.Context) ([]models.SignatureEntry, error) {
	cur, err := s.db.Collection(collSignatures).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.SignatureEntry
	for cur.Next(ctx) {
		var doc signatureDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding entry: %w", err)
		}
		out = append(out, doc.model())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	cur, err := s.db.Collection(collRecordings).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	var docs []recordingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	out := make([]models.Recording, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (s *MongoStore) FindRecordingByChecksum(ctx context.Context, checksum string) (*models.Recording, error) {
	var doc recordingDoc
	err := s.db.Collection(collRecordings).FindOne(ctx, bson.M{"checksum": checksum},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying checksum: %w", err)
	}
	rec := doc.model()
	return &rec, nil
}

func (s *MongoStore) DeleteRecording(ctx context.Context, id int64) error {
	if _, err := s.db.Collection(collSignatures).DeleteMany(ctx, bson.M{"recording_id": id}); err != nil {
		return fmt.Errorf("deleting signatures: %w", err)
	}
	res, err := s.db.Collection(collRecordings).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	return nil
}

// Drop removes the whole database. Used by tests.
func (s *MongoStore) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func toRecordingDoc(r models.Recording) recordingDoc {
	return recordingDoc{
		ID:          r.ID,
		Title:       r.Title,
		Channels:    r.Channels,
		SampleRate:  r.SampleRate,
		SampleWidth: r.SampleWidth,
		DurationSec: r.DurationSec,
		WindowCount: r.WindowCount,
		Checksum:    r.Checksum,
		BatchID:     r.BatchID,
		CreatedAt:   r.CreatedAt,
	}
}

func (d recordingDoc) model() models.Recording {
	return models.Recording{
		ID:          d.ID,
		Title:       d.Title,
		Channels:    d.Channels,
		SampleRate:  d.SampleRate,
		SampleWidth: d.SampleWidth,
		DurationSec: d.DurationSec,
		WindowCount: d.WindowCount,
		Checksum:    d.Checksum,
		BatchID:     d.BatchID,
		CreatedAt:   d.CreatedAt,
	}
}

func (d signatureDoc) model() models.SignatureEntry {
	return models.SignatureEntry{
		ID:          d.ID,
		RecordingID: d.RecordingID,
		Position:    d.Position,
		Vector:      models.SignatureWindow(d.Vector),
	}
}
