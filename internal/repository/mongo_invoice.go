package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoInvoiceRepository implements domain.InvoiceRepository
type MongoInvoiceRepository struct {
	collection *mongo.Collection
}

// NewMongoInvoiceRepository creates a new invoice repository.
//
// A partial unique index on (user_id, course_id) restricted to open invoices
// backs the lifecycle manager's at-most-one-open-invoice invariant across
// concurrent writers and across instances.
func NewMongoInvoiceRepository(db *mongo.Database) *MongoInvoiceRepository {
	coll := db.Collection("invoices")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"open": true}),
	})
	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider_ref", Value: 1}},
	})
	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "open", Value: 1}, {Key: "expiry_date", Value: 1}},
	})

	return &MongoInvoiceRepository{collection: coll}
}

func (r *MongoInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	now := time.Now().UTC()
	invoice.ID = ulid.Make().String()
	invoice.Open = !invoice.Status.Terminal()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	invoice.StatusHistory = []domain.StatusChange{{Status: invoice.Status, At: now}}

	if _, err := r.collection.InsertOne(ctx, invoice); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *MongoInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&invoice); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &invoice, nil
}

func (r *MongoInvoiceRepository) GetByProviderRef(ctx context.Context, ref string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := r.collection.FindOne(ctx, bson.M{"provider_ref": ref}).Decode(&invoice); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice by provider ref: %w", err)
	}
	return &invoice, nil
}

// GetOpenByUserAndCourse finds the one non-terminal invoice for the pair, if any.
func (r *MongoInvoiceRepository) GetOpenByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Invoice, error) {
	filter := bson.M{
		"user_id":   userID,
		"course_id": courseID,
		"open":      true,
	}

	var invoice domain.Invoice
	if err := r.collection.FindOne(ctx, filter).Decode(&invoice); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get open invoice: %w", err)
	}
	return &invoice, nil
}

func (r *MongoInvoiceRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices by user: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []*domain.Invoice
	for cursor.Next(ctx) {
		var invoice domain.Invoice
		if err := cursor.Decode(&invoice); err != nil {
			return nil, err
		}
		invoices = append(invoices, &invoice)
	}
	return invoices, cursor.Err()
}

// Transition applies a conditional status update: the write takes effect only
// if the current status is one of the expected prior statuses. Exactly one of
// any set of concurrent callers with the same expectation observes true.
func (r *MongoInvoiceRepository) Transition(ctx context.Context, id string, from []domain.InvoiceStatus, to domain.InvoiceStatus) (bool, error) {
	for _, f := range from {
		if !f.CanTransition(to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}

	now := time.Now().UTC()

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": from},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"open":       !to.Terminal(),
			"updated_at": now,
		},
		"$push": bson.M{
			"status_history": domain.StatusChange{Status: to, At: now},
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition invoice status: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

// AttachProviderData backfills provider payment material onto a created
// invoice, moving it to awaiting_payment. Conditional on status=created so a
// duplicate backfill attempt loses cleanly.
func (r *MongoInvoiceRepository) AttachProviderData(ctx context.Context, id string, data domain.ProviderData) (bool, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"_id":    id,
		"status": domain.InvoiceStatusCreated,
	}
	update := bson.M{
		"$set": bson.M{
			"status":       domain.InvoiceStatusAwaitingPayment,
			"open":         true,
			"provider_ref": data.Ref,
			"payment_url":  data.PaymentURL,
			"va_number":    data.VANumber,
			"expiry_date":  data.ExpiresAt,
			"updated_at":   now,
		},
		"$push": bson.M{
			"status_history": domain.StatusChange{Status: domain.InvoiceStatusAwaitingPayment, At: now},
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to attach provider data: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

// MarkPaid is the race-deciding write of the reconciliation engine: set
// status=paid where status=awaiting_payment. The caller whose update matched
// is the winner and the only one allowed to grant the entitlement.
func (r *MongoInvoiceRepository) MarkPaid(ctx context.Context, id string, data domain.PaidData) (bool, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"_id":    id,
		"status": domain.InvoiceStatusAwaitingPayment,
	}
	update := bson.M{
		"$set": bson.M{
			"status":              domain.InvoiceStatusPaid,
			"open":                false,
			"provider_payment_id": data.ProviderPaymentID,
			"paid_amount":         data.PaidAmount,
			"last_reconciled_at":  now,
			"updated_at":          now,
		},
		"$push": bson.M{
			"status_history": domain.StatusChange{Status: domain.InvoiceStatusPaid, At: now},
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *MongoInvoiceRepository) ListOpenExpiredBefore(ctx context.Context, t time.Time, limit int64) ([]*domain.Invoice, error) {
	// Created rows carry no expiry_date until provider creation succeeds;
	// they never match here and are handled by the backfill path instead.
	filter := bson.M{
		"open":        true,
		"expiry_date": bson.M{"$lt": t},
	}
	opts := options.Find().SetLimit(limit).SetSort(bson.D{{Key: "expiry_date", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired invoices: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []*domain.Invoice
	for cursor.Next(ctx) {
		var invoice domain.Invoice
		if err := cursor.Decode(&invoice); err != nil {
			return nil, err
		}
		invoices = append(invoices, &invoice)
	}
	return invoices, cursor.Err()
}
