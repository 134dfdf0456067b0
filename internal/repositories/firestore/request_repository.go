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

// RequestRepository owns the return/cancel request ledger. Resolution runs
// in the same transactional envelope as order mutations: the request, its
// order, and the order's pending requests are read together before any
// write commits.
type RequestRepository struct {
	provider *pfirestore.Provider
	requests *pfirestore.BaseRepository[requestDocument]
}

func NewRequestRepository(provider *pfirestore.Provider) (*RequestRepository, error) {
	if provider == nil {
		return nil, errors.New("request repository requires firestore provider")
	}
	return &RequestRepository{
		provider: provider,
		requests: pfirestore.NewBaseRepository[requestDocument](provider, requestsCollection, nil, nil),
	}, nil
}

func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (domain.ReturnCancelRequest, error) {
	if r == nil || r.requests == nil {
		return domain.ReturnCancelRequest{}, errors.New("request repository not initialised")
	}
	doc, err := r.requests.Get(ctx, requestID)
	if err != nil {
		return domain.ReturnCancelRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *RequestRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnCancelRequest, error) {
	if r == nil || r.requests == nil {
		return nil, errors.New("request repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("request list: order id is required")
	}

	docs, err := r.requests.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderRef", "==", orderID).OrderBy("requestedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	requests := make([]domain.ReturnCancelRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.Data.toDomain(doc.ID))
	}
	return requests, nil
}

func (r *RequestRepository) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.ReturnCancelRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReturnCancelRequest]{}, errors.New("request repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReturnCancelRequest]{}, pfirestore.WrapError("requests.list", err)
	}

	query := client.Collection(requestsCollection).Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderRef", "==", orderID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerRef", "==", sellerID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query = query.Where("type", "in", types)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("requestedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeRequestPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReturnCancelRequest]{}, pfirestore.WrapError("requests.list", err)
		}
		query = query.StartAfter(cursor.RequestedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var requests []domain.ReturnCancelRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ReturnCancelRequest]{}, pfirestore.WrapError("requests.list", err)
		}
		var doc requestDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ReturnCancelRequest]{}, fmt.Errorf("decode request %s: %w", snap.Ref.ID, err)
		}
		requests = append(requests, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(requests) > pageSize
	if hasMore {
		requests = requests[:pageSize]
	}
	var nextToken string
	if hasMore && len(requests) > 0 {
		last := requests[len(requests)-1]
		encoded, err := encodeRequestPageToken(requestPageToken{RequestedAt: last.RequestedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.ReturnCancelRequest]{}, pfirestore.WrapError("requests.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReturnCancelRequest]{Items: requests, NextPageToken: nextToken}, nil
}

func (r *RequestRepository) Resolve(ctx context.Context, requestID string, fn repositories.RequestMutator) (domain.ReturnCancelRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnCancelRequest{}, errors.New("request repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.ReturnCancelRequest{}, errors.New("request resolve: id is required")
	}
	if fn == nil {
		return domain.ReturnCancelRequest{}, errors.New("request resolve: mutator is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ReturnCancelRequest{}, pfirestore.WrapError("requests.resolve", err)
	}

	var committed domain.ReturnCancelRequest
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reqRef := client.Collection(requestsCollection).Doc(requestID)
		reqSnap, err := tx.Get(reqRef)
		if err != nil {
			return err
		}
		var reqDoc requestDocument
		if err := reqSnap.DataTo(&reqDoc); err != nil {
			return fmt.Errorf("decode request %s: %w", requestID, err)
		}
		request := reqDoc.toDomain(requestID)

		orderRef := client.Collection(ordersCollection).Doc(request.OrderID)
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", request.OrderID, err)
		}
		order := orderDoc.toDomain(request.OrderID)

		pending, err := readPendingRequests(tx, client, request.OrderID)
		if err != nil {
			return err
		}

		mutation, err := fn(request, repositories.OrderSnapshot{Order: order, Pending: pending})
		if err != nil {
			return err
		}

		committed = request
		if err := applyMutation(tx, client, orderRef, mutation); err != nil {
			return err
		}
		if mutation.UpdateRequest != nil {
			committed = *mutation.UpdateRequest
		}
		return nil
	})
	if err != nil {
		return domain.ReturnCancelRequest{}, err
	}
	return committed, nil
}

type requestPageToken struct {
	RequestedAt time.Time
	ID          string
}

func encodeRequestPageToken(token requestPageToken) (string, error) {
	return pagination.EncodeToken("request", token)
}

func decodeRequestPageToken(encoded string) (requestPageToken, error) {
	var token requestPageToken
	if err := pagination.DecodeToken("request", encoded, &token); err != nil {
		return requestPageToken{}, err
	}
	return token, nil
}
