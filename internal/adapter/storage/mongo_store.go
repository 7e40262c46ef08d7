package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

const (
	requestsCollection  = "inventory_requests"
	movementsCollection = "inventory_movements"
	usersCollection     = "users"
)

// MongoStore implements port.Store on MongoDB. Approvals run in a session
// transaction, so the deployment must be a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, database), nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(database)}
}

type itemDoc struct {
	ID            string    `bson:"_id"`
	Brand         string    `bson:"brand"`
	Model         string    `bson:"model"`
	Description   string    `bson:"description"`
	Supplier      string    `bson:"supplier"`
	Unit          string    `bson:"unit"`
	UnitPrice     string    `bson:"unit_price"`
	Quantity      int       `bson:"quantity"`
	SerialNumbers []string  `bson:"serial_numbers"`
	Categories    []string  `bson:"categories"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type requestDoc struct {
	ID              string     `bson:"_id"`
	MovementType    string     `bson:"movement_type"`
	Domain          string     `bson:"domain"`
	ItemID          string     `bson:"item_id"`
	Quantity        int        `bson:"quantity"`
	RequesterID     string     `bson:"requester_id,omitempty"`
	State           string     `bson:"state"`
	RequestedAt     time.Time  `bson:"requested_at"`
	ReasonRequested string     `bson:"reason_requested"`
	ReasonRejected  string     `bson:"reason_rejected,omitempty"`
	ApproverID      string     `bson:"approver_id,omitempty"`
	ApprovedAt      *time.Time `bson:"approved_at,omitempty"`
	SerialNumbers   []string   `bson:"serial_numbers"`
}

type movementDoc struct {
	ID          string    `bson:"_id"`
	Domain      string    `bson:"domain"`
	ItemID      string    `bson:"item_id"`
	Type        string    `bson:"type"`
	Quantity    int       `bson:"quantity"`
	RequestID   string    `bson:"request_id"`
	PerformedBy string    `bson:"performed_by"`
	CreatedAt   time.Time `bson:"created_at"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	IsAdmin   bool      `bson:"is_admin"`
	CreatedAt time.Time `bson:"created_at"`
}

func (s *MongoStore) items(d domain.InventoryDomain) *mongo.Collection {
	return s.db.Collection(itemTable(d))
}

func (s *MongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		requestsCollection: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "requested_at", Value: -1}}},
			{Keys: bson.D{{Key: "requester_id", Value: 1}, {Key: "requested_at", Value: -1}}},
		},
		movementsCollection: {
			{Keys: bson.D{{Key: "domain", Value: 1}, {Key: "item_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) GetItem(ctx context.Context, d domain.InventoryDomain, itemID string) (*domain.Item, error) {
	var doc itemDoc
	err := s.items(d).FindOne(ctx, bson.M{"_id": itemID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item: %w", err)
	}

	item, err := doc.toDomain(d)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *MongoStore) ListItems(ctx context.Context, d domain.InventoryDomain) ([]domain.Item, error) {
	cur, err := s.items(d).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}

	var docs []itemDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	items := make([]domain.Item, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.toDomain(d)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *MongoStore) CreateItem(ctx context.Context, item domain.Item) error {
	if _, err := s.items(item.Domain).InsertOne(ctx, toItemDoc(item)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: item %s already exists", domain.ErrConflict, item.ID)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateItem(ctx context.Context, item domain.Item) error {
	doc := toItemDoc(item)
	res, err := s.items(item.Domain).UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{"$set": bson.M{
		"brand":          doc.Brand,
		"model":          doc.Model,
		"description":    doc.Description,
		"supplier":       doc.Supplier,
		"unit":           doc.Unit,
		"unit_price":     doc.UnitPrice,
		"quantity":       doc.Quantity,
		"serial_numbers": doc.SerialNumbers,
		"categories":     doc.Categories,
		"updated_at":     doc.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s item %s", domain.ErrNotFound, item.Domain, item.ID)
	}
	return nil
}

func (s *MongoStore) DeleteItem(ctx context.Context, d domain.InventoryDomain, itemID string) error {
	if _, err := s.items(d).DeleteOne(ctx, bson.M{"_id": itemID}); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateRequest(ctx context.Context, req domain.InventoryRequest) error {
	if _, err := s.db.Collection(requestsCollection).InsertOne(ctx, toRequestDoc(req)); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *MongoStore) GetRequest(ctx context.Context, requestID string) (*domain.InventoryRequest, error) {
	var doc requestDoc
	err := s.db.Collection(requestsCollection).FindOne(ctx, bson.M{"_id": requestID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}

	req := doc.toDomain()
	return &req, nil
}

func (s *MongoStore) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InventoryRequest, error) {
	q := bson.M{}
	if filter.State != "" {
		q["state"] = string(filter.State)
	}
	if filter.RequesterID != "" {
		q["requester_id"] = filter.RequesterID
	}
	if !filter.RequestedBefore.IsZero() {
		q["requested_at"] = bson.M{"$lt": filter.RequestedBefore}
	}

	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.db.Collection(requestsCollection).Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("find requests: %w", err)
	}

	var docs []requestDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode requests: %w", err)
	}

	reqs := make([]domain.InventoryRequest, len(docs))
	for i, doc := range docs {
		reqs[i] = doc.toDomain()
	}
	return reqs, nil
}

func (s *MongoStore) CommitDecision(ctx context.Context, processed domain.InventoryRequest) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, s.commitDecision(ctx, processed)
	})
	return err
}

func (s *MongoStore) commitDecision(ctx context.Context, p domain.InventoryRequest) error {
	requests := s.db.Collection(requestsCollection)

	res, err := requests.UpdateOne(ctx,
		bson.M{"_id": p.ID, "state": string(domain.StatePending)},
		bson.M{"$set": bson.M{
			"state":           string(p.State),
			"reason_rejected": p.ReasonRejected,
			"approver_id":     p.ApproverID,
			"approved_at":     p.ApprovedAt,
		}})
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if res.MatchedCount == 0 {
		var doc requestDoc
		err := requests.FindOne(ctx, bson.M{"_id": p.ID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: request %s", domain.ErrNotFound, p.ID)
		}
		if err != nil {
			return fmt.Errorf("find request: %w", err)
		}
		return fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyProcessed, p.ID, doc.State)
	}

	if p.State != domain.StateApproved {
		return nil
	}

	now := time.Now().UTC()
	if p.ApprovedAt != nil {
		now = *p.ApprovedAt
	}

	filter := bson.M{"_id": p.ItemID}
	var update bson.M
	if p.MovementType == domain.MovementExit {
		filter["quantity"] = bson.M{"$gte": p.Quantity}
		update = bson.M{
			"$inc": bson.M{"quantity": -p.Quantity},
			"$set": bson.M{"updated_at": now},
		}
		if len(p.SerialNumbers) > 0 {
			filter["serial_numbers"] = bson.M{"$all": p.SerialNumbers}
			update["$pull"] = bson.M{"serial_numbers": bson.M{"$in": p.SerialNumbers}}
		}
	} else {
		update = bson.M{
			"$inc":      bson.M{"quantity": p.Quantity},
			"$set":      bson.M{"updated_at": now},
			"$addToSet": bson.M{"serial_numbers": bson.M{"$each": nonNil(p.SerialNumbers)}},
		}
	}

	res, err = s.items(p.Domain).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.stockMiss(ctx, p)
	}

	mv := movementDoc{
		ID:          uuid.NewString(),
		Domain:      string(p.Domain),
		ItemID:      p.ItemID,
		Type:        string(p.MovementType),
		Quantity:    p.Quantity,
		RequestID:   p.ID,
		PerformedBy: p.ApproverID,
		CreatedAt:   now,
	}
	if _, err := s.db.Collection(movementsCollection).InsertOne(ctx, mv); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (s *MongoStore) stockMiss(ctx context.Context, p domain.InventoryRequest) error {
	var doc itemDoc
	err := s.items(p.Domain).FindOne(ctx, bson.M{"_id": p.ItemID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s item %s", domain.ErrNotFound, p.Domain, p.ItemID)
	}
	if err != nil {
		return fmt.Errorf("find item: %w", err)
	}
	if doc.Quantity < p.Quantity {
		return fmt.Errorf("%w: item %s has %d, requested %d",
			domain.ErrInsufficientStock, p.ItemID, doc.Quantity, p.Quantity)
	}
	return fmt.Errorf("%w: item %s no longer holds all of %v", domain.ErrInvalidSerials, p.ItemID, p.SerialNumbers)
}

func (s *MongoStore) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	q := bson.M{}
	if filter.Domain != "" {
		q["domain"] = string(filter.Domain)
	}
	if filter.ItemID != "" {
		q["item_id"] = filter.ItemID
	}
	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		created["$lte"] = filter.To
	}
	if len(created) > 0 {
		q["created_at"] = created
	}

	cur, err := s.db.Collection(movementsCollection).Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find movements: %w", err)
	}

	var docs []movementDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode movements: %w", err)
	}

	out := make([]domain.Movement, len(docs))
	for i, d := range docs {
		out[i] = domain.Movement{
			ID:          d.ID,
			Domain:      domain.InventoryDomain(d.Domain),
			ItemID:      d.ItemID,
			Type:        domain.MovementType(d.Type),
			Quantity:    d.Quantity,
			RequestID:   d.RequestID,
			PerformedBy: d.PerformedBy,
			CreatedAt:   d.CreatedAt.UTC(),
		}
	}
	return out, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user domain.User) error {
	doc := userDoc{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin, CreatedAt: user.CreatedAt}
	if _, err := s.db.Collection(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: username %q is taken", domain.ErrConflict, user.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"_id": userID})
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &domain.User{ID: doc.ID, Username: doc.Username, IsAdmin: doc.IsAdmin, CreatedAt: doc.CreatedAt.UTC()}, nil
}

func (s *MongoStore) UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	opts := options.Find().SetProjection(bson.M{"username": 1})
	cur, err := s.db.Collection(usersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": dedupe(userIDs)}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, d := range docs {
		names[d.ID] = d.Username
	}
	return names, nil
}

func toItemDoc(item domain.Item) itemDoc {
	return itemDoc{
		ID:            item.ID,
		Brand:         item.Brand,
		Model:         item.Model,
		Description:   item.Description,
		Supplier:      item.Supplier,
		Unit:          item.Unit,
		UnitPrice:     item.UnitPrice.StringFixed(2),
		Quantity:      item.Quantity,
		SerialNumbers: nonNil(item.SerialNumbers),
		Categories:    nonNil(item.Categories),
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

func (d itemDoc) toDomain(dom domain.InventoryDomain) (domain.Item, error) {
	price := decimal.Zero
	if d.UnitPrice != "" {
		var err error
		if price, err = decimal.NewFromString(d.UnitPrice); err != nil {
			return domain.Item{}, fmt.Errorf("item %s: bad unit price %q: %w", d.ID, d.UnitPrice, err)
		}
	}

	return domain.Item{
		ID:            d.ID,
		Domain:        dom,
		Brand:         d.Brand,
		Model:         d.Model,
		Description:   d.Description,
		Supplier:      d.Supplier,
		Unit:          d.Unit,
		UnitPrice:     price,
		Quantity:      d.Quantity,
		SerialNumbers: d.SerialNumbers,
		Categories:    d.Categories,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}, nil
}

func toRequestDoc(r domain.InventoryRequest) requestDoc {
	return requestDoc{
		ID:              r.ID,
		MovementType:    string(r.MovementType),
		Domain:          string(r.Domain),
		ItemID:          r.ItemID,
		Quantity:        r.Quantity,
		RequesterID:     r.RequesterID,
		State:           string(r.State),
		RequestedAt:     r.RequestedAt,
		ReasonRequested: r.ReasonRequested,
		ReasonRejected:  r.ReasonRejected,
		ApproverID:      r.ApproverID,
		ApprovedAt:      r.ApprovedAt,
		SerialNumbers:   nonNil(r.SerialNumbers),
	}
}

func (d requestDoc) toDomain() domain.InventoryRequest {
	req := domain.InventoryRequest{
		ID:              d.ID,
		MovementType:    domain.MovementType(d.MovementType),
		Domain:          domain.InventoryDomain(d.Domain),
		ItemID:          d.ItemID,
		Quantity:        d.Quantity,
		RequesterID:     d.RequesterID,
		State:           domain.RequestState(d.State),
		RequestedAt:     d.RequestedAt.UTC(),
		ReasonRequested: d.ReasonRequested,
		ReasonRejected:  d.ReasonRejected,
		ApproverID:      d.ApproverID,
		SerialNumbers:   d.SerialNumbers,
	}
	if d.ApprovedAt != nil {
		t := d.ApprovedAt.UTC()
		req.ApprovedAt = &t
	}
	return req
}

// nonNil keeps arrays out of BSON null so $addToSet and $pull work.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
