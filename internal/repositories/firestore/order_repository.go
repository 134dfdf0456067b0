package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/shopstream/api/internal/domain"
	pfirestore "github.com/shopstream/api/internal/platform/firestore"
	"github.com/shopstream/api/internal/platform/pagination"
	"github.com/shopstream/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	requestsCollection = "returnCancelRequests"
	auditLogCollection = "auditLogs"

	defaultPageSize = 50
	maxPageSize     = 200
)

// OrderRepository persists orders and runs the transactional envelope every
// lifecycle transition executes in: the order row and its pending requests
// are read, the mutator evaluated, and all writes committed in one Firestore
// transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userRef", "==", userID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerRef", "==", sellerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutator) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order mutate: id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutator is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}

	var committed domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := client.Collection(ordersCollection).Doc(orderID)
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order := doc.toDomain(orderID)

		pending, err := readPendingRequests(tx, client, orderID)
		if err != nil {
			return err
		}

		mutation, err := fn(repositories.OrderSnapshot{Order: order, Pending: pending})
		if err != nil {
			return err
		}

		committed = order
		if err := applyMutation(tx, client, orderRef, mutation); err != nil {
			return err
		}
		if mutation.Order != nil {
			committed = *mutation.Order
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return committed, nil
}

// readPendingRequests loads every pending request for the order inside the
// transaction so the ledger dedup guard sees a consistent view.
func readPendingRequests(tx *firestore.Transaction, client *firestore.Client, orderID string) ([]domain.ReturnCancelRequest, error) {
	query := client.Collection(requestsCollection).Query.
		Where("orderRef", "==", orderID).
		Where("status", "==", string(domain.RequestStatusPending))

	iter := tx.Documents(query)
	defer iter.Stop()

	var pending []domain.ReturnCancelRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc requestDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode request %s: %w", snap.Ref.ID, err)
		}
		pending = append(pending, doc.toDomain(snap.Ref.ID))
	}
	return pending, nil
}

// applyMutation commits the writes of a mutation in the enclosing
// transaction. Request inserts use Create so a concurrent duplicate
// submission fails instead of silently overwriting.
func applyMutation(tx *firestore.Transaction, client *firestore.Client, orderRef *firestore.DocumentRef, mutation repositories.OrderMutation) error {
	if mutation.Order != nil {
		if err := tx.Set(orderRef, newOrderDocument(*mutation.Order)); err != nil {
			return err
		}
	}
	if mutation.InsertRequest != nil {
		ref := client.Collection(requestsCollection).Doc(mutation.InsertRequest.ID)
		if err := tx.Create(ref, newRequestDocument(*mutation.InsertRequest)); err != nil {
			return err
		}
	}
	if mutation.UpdateRequest != nil {
		ref := client.Collection(requestsCollection).Doc(mutation.UpdateRequest.ID)
		if err := tx.Set(ref, newRequestDocument(*mutation.UpdateRequest)); err != nil {
			return err
		}
	}
	for _, entry := range mutation.AuditEntries {
		ref := client.Collection(auditLogCollection).Doc(entry.ID)
		if err := tx.Create(ref, newAuditDocument(entry)); err != nil {
			return err
		}
	}
	return nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	OrderNumber        string              `firestore:"orderNumber"`
	UserRef            string              `firestore:"userRef"`
	SellerRef          string              `firestore:"sellerRef"`
	Status             string              `firestore:"status"`
	PaymentMethod      string              `firestore:"paymentMethod"`
	Currency           string              `firestore:"currency"`
	TotalAmount        int64               `firestore:"totalAmount"`
	Items              []orderItemDocument `firestore:"items"`
	CancellationReason *string             `firestore:"cancellationReason,omitempty"`
	Metadata           map[string]any      `firestore:"metadata,omitempty"`
	CreatedBy          *string             `firestore:"createdBy,omitempty"`
	UpdatedBy          *string             `firestore:"updatedBy,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	ReturnedAt         *time.Time          `firestore:"returnedAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	SKU        string `firestore:"sku,omitempty"`
	Name       string `firestore:"name,omitempty"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return orderDocument{
		OrderNumber:        order.OrderNumber,
		UserRef:            order.UserID,
		SellerRef:          order.SellerID,
		Status:             string(order.Status),
		PaymentMethod:      string(order.PaymentMethod),
		Currency:           order.Currency,
		TotalAmount:        order.TotalAmount,
		Items:              items,
		CancellationReason: order.CancellationReason,
		Metadata:           order.Metadata,
		CreatedBy:          order.Audit.CreatedBy,
		UpdatedBy:          order.Audit.UpdatedBy,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		DeliveredAt:        utcPtr(order.DeliveredAt),
		CancelledAt:        utcPtr(order.CancelledAt),
		ReturnedAt:         utcPtr(order.ReturnedAt),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return domain.Order{
		ID:                 id,
		OrderNumber:        d.OrderNumber,
		UserID:             d.UserRef,
		SellerID:           d.SellerRef,
		Status:             domain.OrderStatus(d.Status),
		PaymentMethod:      domain.PaymentMethod(d.PaymentMethod),
		Currency:           d.Currency,
		TotalAmount:        d.TotalAmount,
		Items:              items,
		CancellationReason: d.CancellationReason,
		Metadata:           d.Metadata,
		Audit: domain.OrderAudit{
			CreatedBy: d.CreatedBy,
			UpdatedBy: d.UpdatedBy,
		},
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
		ReturnedAt:  d.ReturnedAt,
	}
}

type requestDocument struct {
	OrderRef         string     `firestore:"orderRef"`
	SellerRef        string     `firestore:"sellerRef,omitempty"`
	Type             string     `firestore:"type"`
	Reason           string     `firestore:"reason"`
	Comments         string     `firestore:"comments,omitempty"`
	Status           string     `firestore:"status"`
	PriorOrderStatus string     `firestore:"priorOrderStatus"`
	RequestedBy      string     `firestore:"requestedBy"`
	RequestedAt      time.Time  `firestore:"requestedAt"`
	ResolvedAt       *time.Time `firestore:"resolvedAt,omitempty"`
	ResolvedBy       *string    `firestore:"resolvedBy,omitempty"`
}

func newRequestDocument(req domain.ReturnCancelRequest) requestDocument {
	return requestDocument{
		OrderRef:         req.OrderID,
		SellerRef:        req.SellerID,
		Type:             string(req.Type),
		Reason:           req.Reason,
		Comments:         req.Comments,
		Status:           string(req.Status),
		PriorOrderStatus: string(req.PriorOrderStatus),
		RequestedBy:      req.RequestedBy,
		RequestedAt:      req.RequestedAt.UTC(),
		ResolvedAt:       utcPtr(req.ResolvedAt),
		ResolvedBy:       req.ResolvedBy,
	}
}

func (d requestDocument) toDomain(id string) domain.ReturnCancelRequest {
	return domain.ReturnCancelRequest{
		ID:               id,
		OrderID:          d.OrderRef,
		SellerID:         d.SellerRef,
		Type:             domain.RequestType(d.Type),
		Reason:           d.Reason,
		Comments:         d.Comments,
		Status:           domain.RequestStatus(d.Status),
		PriorOrderStatus: domain.OrderStatus(d.PriorOrderStatus),
		RequestedBy:      d.RequestedBy,
		RequestedAt:      d.RequestedAt,
		ResolvedAt:       d.ResolvedAt,
		ResolvedBy:       d.ResolvedBy,
	}
}

type auditDocument struct {
	Actor      string         `firestore:"actor"`
	ActorType  string         `firestore:"actorType"`
	Action     string         `firestore:"action"`
	TargetRef  string         `firestore:"targetRef"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
	Severity   string         `firestore:"severity"`
	RequestRef string         `firestore:"requestRef,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func newAuditDocument(entry domain.AuditLogEntry) auditDocument {
	return auditDocument{
		Actor:      entry.Actor,
		ActorType:  entry.ActorType,
		Action:     entry.Action,
		TargetRef:  entry.TargetRef,
		Metadata:   entry.Metadata,
		Severity:   entry.Severity,
		RequestRef: entry.RequestID,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (d auditDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		Severity:  d.Severity,
		RequestID: d.RequestRef,
		CreatedAt: d.CreatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

type orderPageToken struct {
	CreatedAt time.Time
	ID        string
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken("order", token)
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	var token orderPageToken
	if err := pagination.DecodeToken("order", encoded, &token); err != nil {
		return orderPageToken{}, err
	}
	return token, nil
}
