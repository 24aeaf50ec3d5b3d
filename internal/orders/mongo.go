package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
	"mesa-system/internal/events"
	"mesa-system/internal/remote"
)

// MongoEngine runs the order transaction against the remote document store
// inside a multi-document session transaction. Semantics mirror the local
// engine; only the transaction primitive differs.
type MongoEngine struct {
	client *remote.Client
	store  *remote.Store
	pub    events.Publisher
	log    zerolog.Logger
}

func NewMongoEngine(client *remote.Client, store *remote.Store, pub events.Publisher, logger zerolog.Logger) *MongoEngine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &MongoEngine{
		client: client,
		store:  store,
		pub:    pub,
		log:    logger.With().Str("component", "orders-mongo").Logger(),
	}
}

// withTx runs fn in a session transaction. Business-rule errors pass
// through unchanged; infrastructure failures surface as an aborted
// transaction.
func (e *MongoEngine) withTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := e.client.StartSession()
	if err != nil {
		return apperrors.StoreUnavailable("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err == nil {
		return nil
	}
	if apperrors.IsValidation(err) || apperrors.IsNotFound(err) || apperrors.IsConflict(err) {
		return err
	}
	return &apperrors.TransactionAbortedError{Cause: err}
}

func oidFrom(entity, hex string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperrors.Validation(entity, "invalid id %q", hex)
	}
	return oid, nil
}

func hexPtr(p *primitive.ObjectID) string {
	if p == nil {
		return ""
	}
	return p.Hex()
}

func viewFromDoc(doc *remote.OrderDoc) *Order {
	view := &Order{
		ID:              doc.ID.Hex(),
		OrderNumber:     doc.OrderNumber,
		OrderType:       doc.OrderType,
		Status:          doc.Status,
		KitchenStatus:   doc.KitchenStatus,
		KitchenNotes:    doc.KitchenNotes,
		TableID:         hexPtr(doc.Table),
		TableNumber:     doc.TableNumber,
		CustomerID:      hexPtr(doc.Customer),
		CustomerName:    doc.CustomerName,
		CustomerPhone:   doc.CustomerPhone,
		Subtotal:        doc.Subtotal,
		Tax:             doc.Tax,
		ServiceCharge:   doc.ServiceCharge,
		Discount:        doc.Discount,
		Tip:             doc.Tip,
		FinalTotal:      doc.FinalTotal,
		PaymentMethod:   doc.PaymentMethod,
		PaymentStatus:   doc.PaymentStatus,
		CashierID:       hexPtr(doc.Cashier),
		BranchID:        doc.Branch.Hex(),
		PreparationTime: doc.PreparationTime,
		ServedAt:        doc.ServedAt,
		CompletedAt:     doc.CompletedAt,
	}
	if !doc.CreatedAt.IsZero() {
		created := doc.CreatedAt
		view.CreatedAt = &created
	}
	for _, it := range doc.Items {
		view.Items = append(view.Items, Item{
			ProductID:   it.Product.Hex(),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Total:       it.Total,
			Notes:       it.Notes,
		})
	}
	return view
}

func (e *MongoEngine) loadOrderDoc(ctx context.Context, id string) (*remote.OrderDoc, error) {
	oid, err := oidFrom("order", id)
	if err != nil {
		return nil, err
	}
	var doc remote.OrderDoc
	err = e.client.Collection(remote.CollOrders).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("order", id)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("find order", err)
	}
	return &doc, nil
}

func (e *MongoEngine) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	if input.BranchID == "" {
		return nil, apperrors.Validation("branch", "branch is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.Validation("items", "order must have at least one item")
	}
	if input.OrderType == "" {
		input.OrderType = models.OrderTypeDineIn
	}
	if !validOrderType(input.OrderType) {
		return nil, apperrors.Validation("orderType", "unknown order type %q", input.OrderType)
	}
	for _, it := range input.Items {
		if it.Quantity <= 0 {
			return nil, apperrors.Validation("items", "item quantity must be positive")
		}
	}

	branchOID, err := oidFrom("branch", input.BranchID)
	if err != nil {
		return nil, err
	}

	var doc remote.OrderDoc
	err = e.withTx(ctx, func(sc mongo.SessionContext) error {
		var branch remote.BranchDoc
		err := e.client.Collection(remote.CollBranches).FindOne(sc, bson.M{"_id": branchOID}).Decode(&branch)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperrors.NotFound("branch", input.BranchID)
		}
		if err != nil {
			return err
		}

		now := time.Now()
		doc = remote.OrderDoc{
			OrderType:     input.OrderType,
			Status:        models.OrderStatusPending,
			KitchenStatus: models.KitchenStatusPending,
			KitchenNotes:  input.KitchenNotes,
			CustomerPhone: input.CustomerPhone,
			PaymentMethod: input.PaymentMethod,
			PaymentStatus: models.PaymentStatusPending,
			Branch:        branchOID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if doc.PaymentMethod == "" {
			doc.PaymentMethod = "cash"
		}

		if input.TableID != "" {
			tableOID, err := oidFrom("table", input.TableID)
			if err != nil {
				return err
			}
			var table remote.TableDoc
			err = e.client.Collection(remote.CollTables).FindOne(sc, bson.M{"_id": tableOID, "branch": branchOID}).Decode(&table)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return apperrors.NotFound("table", input.TableID)
			}
			if err != nil {
				return err
			}
			if table.Status != models.TableStatusAvailable {
				return apperrors.Conflict("table %s is %s", table.Number, table.Status)
			}

			session := remote.TableSessionDoc{StartedAt: now, Customers: input.PartySize}
			if input.WaiterID != "" {
				if waiter, err := primitive.ObjectIDFromHex(input.WaiterID); err == nil {
					session.Waiter = &waiter
				}
			}
			_, err = e.client.Collection(remote.CollTables).UpdateByID(sc, tableOID, bson.M{
				"$set": bson.M{
					"status":         models.TableStatusOccupied,
					"currentSession": session,
					"updatedAt":      now,
				},
			})
			if err != nil {
				return err
			}
			doc.Table = &tableOID
			doc.TableNumber = table.Number
		}

		var subtotal float64
		for _, itemReq := range input.Items {
			productOID, err := oidFrom("product", itemReq.ProductID)
			if err != nil {
				return err
			}
			var product remote.ProductDoc
			err = e.client.Collection(remote.CollProducts).FindOne(sc, bson.M{"_id": productOID, "branch": branchOID}).Decode(&product)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return apperrors.NotFound("product", itemReq.ProductID)
			}
			if err != nil {
				return err
			}
			if !product.Active || !product.IsAvailable {
				return apperrors.Validation("items", "product %s is not available", product.Name)
			}
			if product.Stock < itemReq.Quantity {
				return apperrors.Validation("items",
					"insufficient stock for %s: have %d, need %d", product.Name, product.Stock, itemReq.Quantity)
			}

			_, err = e.client.Collection(remote.CollProducts).UpdateByID(sc, productOID, bson.M{
				"$inc": bson.M{"stock": -itemReq.Quantity, "salesCount": itemReq.Quantity},
				"$set": bson.M{"updatedAt": now},
			})
			if err != nil {
				return err
			}

			total := lineTotal(product.Price, itemReq.Quantity)
			doc.Items = append(doc.Items, remote.OrderItemDoc{
				Product:     productOID,
				ProductName: product.Name,
				Quantity:    itemReq.Quantity,
				Price:       product.Price,
				Total:       total,
				Notes:       itemReq.Notes,
			})
			subtotal += total
		}

		customerName, err := e.resolveCustomerDoc(sc, input, branchOID, &doc)
		if err != nil {
			return err
		}
		doc.CustomerName = customerName

		taxRate, serviceRate := rates(models.BranchSettings{
			TaxRate:       branch.Settings.TaxRate,
			ServiceCharge: branch.Settings.ServiceCharge,
		})
		totals := calcTotals(subtotal, taxRate, serviceRate, input.Discount, input.Tip)
		doc.Subtotal = totals.Subtotal
		doc.Tax = totals.Tax
		doc.ServiceCharge = totals.ServiceCharge
		doc.Discount = totals.Discount
		doc.Tip = totals.Tip
		doc.FinalTotal = totals.FinalTotal

		if input.CashierID != "" {
			if cashier, err := primitive.ObjectIDFromHex(input.CashierID); err == nil {
				doc.Cashier = &cashier
			}
		}

		orderNumber, err := e.nextOrderNumber(sc, branch.BranchCode, now)
		if err != nil {
			return err
		}
		doc.OrderNumber = orderNumber

		res, err := e.client.Collection(remote.CollOrders).InsertOne(sc, doc)
		if err != nil {
			return err
		}
		doc.ID = res.InsertedID.(primitive.ObjectID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderCreated,
		OrderID:     doc.ID.Hex(),
		OrderNumber: doc.OrderNumber,
		BranchID:    doc.Branch.Hex(),
		Status:      doc.Status,
		TotalAmount: doc.FinalTotal,
	})
	return viewFromDoc(&doc), nil
}

func (e *MongoEngine) resolveCustomerDoc(sc mongo.SessionContext, input CreateOrderInput, branchOID primitive.ObjectID, doc *remote.OrderDoc) (string, error) {
	if input.CustomerID != "" {
		customerOID, err := oidFrom("customer", input.CustomerID)
		if err != nil {
			return "", err
		}
		var customer remote.CustomerDoc
		err = e.client.Collection(remote.CollCustomers).FindOne(sc, bson.M{"_id": customerOID, "branch": branchOID}).Decode(&customer)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", apperrors.NotFound("customer", input.CustomerID)
		}
		if err != nil {
			return "", err
		}
		doc.Customer = &customer.ID
		if customer.Phone != "" {
			doc.CustomerPhone = customer.Phone
		}
		if customer.Name != "" {
			return customer.Name, nil
		}
		return input.CustomerName, nil
	}

	if input.CustomerPhone != "" {
		var customer remote.CustomerDoc
		err := e.client.Collection(remote.CollCustomers).
			FindOne(sc, bson.M{"phone": input.CustomerPhone, "branch": branchOID}).
			Decode(&customer)
		if err == nil {
			doc.Customer = &customer.ID
			if customer.Name != "" {
				return customer.Name, nil
			}
			return input.CustomerName, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return "", err
		}

		name := input.CustomerName
		if name == "" {
			name = "Guest"
		}
		now := time.Now()
		res, err := e.client.Collection(remote.CollCustomers).InsertOne(sc, remote.CustomerDoc{
			Name:      name,
			Phone:     input.CustomerPhone,
			Branch:    branchOID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return "", err
		}
		oid := res.InsertedID.(primitive.ObjectID)
		doc.Customer = &oid
		return name, nil
	}

	if input.CustomerName != "" {
		return input.CustomerName, nil
	}
	return "Walking Customer", nil
}

func (e *MongoEngine) nextOrderNumber(sc mongo.SessionContext, branchCode string, now time.Time) (string, error) {
	prefix := fmt.Sprintf("ORD-%s-%s-", branchCode, now.Format("20060102"))
	var last remote.OrderDoc
	err := e.client.Collection(remote.CollOrders).FindOne(sc,
		bson.M{"orderNumber": bson.M{"$regex": "^" + prefix}},
		options.FindOne().SetSort(bson.D{{Key: "orderNumber", Value: -1}}),
	).Decode(&last)

	seq := int64(1)
	if err == nil {
		if n, perr := strconv.ParseInt(strings.TrimPrefix(last.OrderNumber, prefix), 10, 64); perr == nil {
			seq = n + 1
		}
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", err
	}
	return formatOrderNumber(branchCode, now, seq), nil
}

func (e *MongoEngine) GetOrder(ctx context.Context, id string) (*Order, error) {
	doc, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewFromDoc(doc), nil
}

func (e *MongoEngine) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	query := bson.M{}
	if filter.BranchID != "" {
		branchOID, err := oidFrom("branch", filter.BranchID)
		if err != nil {
			return nil, err
		}
		query["branch"] = branchOID
	}
	switch filter.Status {
	case "":
	case "active":
		query["status"] = bson.M{"$in": activeStatuses}
	default:
		query["status"] = filter.Status
	}
	if filter.KitchenStatus != "" {
		query["kitchenStatus"] = filter.KitchenStatus
	}
	if filter.OrderType != "" {
		query["orderType"] = filter.OrderType
	}
	if filter.PaymentStatus != "" {
		query["paymentStatus"] = filter.PaymentStatus
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		created := bson.M{}
		if !filter.From.IsZero() {
			created["$gte"] = filter.From
		}
		if !filter.To.IsZero() {
			created["$lte"] = filter.To
		}
		query["createdAt"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := e.client.Collection(remote.CollOrders).Find(ctx, query, opts)
	if err != nil {
		return nil, apperrors.StoreUnavailable("list orders", err)
	}
	defer cur.Close(ctx)

	var docs []remote.OrderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperrors.StoreUnavailable("list orders", err)
	}

	out := make([]Order, 0, len(docs))
	for i := range docs {
		out = append(out, *viewFromDoc(&docs[i]))
	}
	return out, nil
}

func (e *MongoEngine) UpdateOrderStatus(ctx context.Context, id string, input StatusUpdateInput) (*Order, error) {
	if input.Status == "" && input.KitchenStatus == "" {
		return nil, apperrors.Validation("status", "status or kitchenStatus is required")
	}
	doc, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	status := input.Status
	if status != "" {
		if err := validateTransition(doc.Status, status); err != nil {
			return nil, err
		}
	}
	if input.KitchenStatus != "" {
		if !validKitchenStatus(input.KitchenStatus) {
			return nil, apperrors.Validation("kitchenStatus", "unknown kitchen status %q", input.KitchenStatus)
		}
		if isTerminal(doc.Status) {
			return nil, apperrors.Conflict("order is already %s", doc.Status)
		}
		// A kitchen-side ready promotes the order itself to at least ready.
		if input.KitchenStatus == models.KitchenStatusReady && status == "" &&
			!statusAtLeast(doc.Status, models.OrderStatusReady) {
			status = models.OrderStatusReady
		}
	}

	now := time.Now()
	err = e.withTx(ctx, func(sc mongo.SessionContext) error {
		set := bson.M{"updatedAt": now}
		if input.KitchenStatus != "" {
			set["kitchenStatus"] = input.KitchenStatus
		}
		if status != "" {
			set["status"] = status
			if input.KitchenStatus == "" {
				if ks := kitchenStatusFor(status); ks != "" {
					set["kitchenStatus"] = ks
				}
			}
		}
		if input.PreparationTime != nil &&
			(status == models.OrderStatusPreparing || input.KitchenStatus == models.KitchenStatusPreparing) {
			set["preparationTime"] = *input.PreparationTime
		}

		switch status {
		case models.OrderStatusCancelled:
			if err := e.reverseOrderDoc(sc, doc, now); err != nil {
				return err
			}

		case models.OrderStatusServed:
			set["servedAt"] = now
			if _, supplied := set["preparationTime"]; !supplied && doc.PreparationTime == nil && !doc.CreatedAt.IsZero() {
				set["preparationTime"] = int(now.Sub(doc.CreatedAt).Minutes())
			}

		case models.OrderStatusCompleted:
			set["completedAt"] = now
			set["paymentStatus"] = models.PaymentStatusPaid
			if err := e.freeTableDoc(sc, doc, now); err != nil {
				return err
			}
			if doc.Customer != nil {
				_, err := e.client.Collection(remote.CollCustomers).UpdateByID(sc, *doc.Customer, bson.M{
					"$inc": bson.M{"totalOrders": 1, "totalSpent": doc.FinalTotal},
					"$set": bson.M{"lastOrder": now, "updatedAt": now},
				})
				if err != nil {
					return err
				}
			}
		}

		_, err := e.client.Collection(remote.CollOrders).UpdateByID(sc, doc.ID, bson.M{"$set": set})
		return err
	})
	if err != nil {
		return nil, err
	}

	updated, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}

	eventType := events.EventOrderStatusUpdated
	switch status {
	case models.OrderStatusCancelled:
		eventType = events.EventOrderCancelled
	case models.OrderStatusCompleted:
		eventType = events.EventOrderCompleted
	}
	e.pub.Publish(ctx, events.Event{
		EventType:   eventType,
		OrderID:     updated.ID.Hex(),
		OrderNumber: updated.OrderNumber,
		BranchID:    updated.Branch.Hex(),
		Status:      updated.Status,
		TotalAmount: updated.FinalTotal,
	})
	return viewFromDoc(updated), nil
}

func (e *MongoEngine) reverseOrderDoc(sc mongo.SessionContext, doc *remote.OrderDoc, now time.Time) error {
	for _, it := range doc.Items {
		_, err := e.client.Collection(remote.CollProducts).UpdateByID(sc, it.Product, bson.M{
			"$inc": bson.M{"stock": it.Quantity, "salesCount": -it.Quantity},
			"$set": bson.M{"updatedAt": now},
		})
		if err != nil {
			return err
		}
	}
	return e.freeTableDoc(sc, doc, now)
}

func (e *MongoEngine) freeTableDoc(sc mongo.SessionContext, doc *remote.OrderDoc, now time.Time) error {
	if doc.Table == nil {
		return nil
	}
	_, err := e.client.Collection(remote.CollTables).UpdateByID(sc, *doc.Table, bson.M{
		"$set":   bson.M{"status": models.TableStatusAvailable, "updatedAt": now},
		"$unset": bson.M{"currentSession": ""},
	})
	return err
}

func (e *MongoEngine) ProcessPayment(ctx context.Context, id string, input PaymentInput) (*PaymentResult, error) {
	doc, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperrors.Conflict("order %s is already paid", doc.OrderNumber)
	}
	if doc.Status == models.OrderStatusCancelled {
		return nil, apperrors.Conflict("order %s is cancelled", doc.OrderNumber)
	}

	method := input.Method
	if method == "" {
		method = doc.PaymentMethod
	}
	if method != "credit" && input.Amount < doc.FinalTotal {
		return nil, apperrors.Validation("amount",
			"insufficient payment: received %.2f, required %.2f", input.Amount, doc.FinalTotal)
	}
	if method == "credit" && doc.Customer == nil {
		return nil, apperrors.Validation("method", "credit payment requires a customer account")
	}

	now := time.Now()
	change := 0.0
	if method != "credit" {
		change = input.Amount - doc.FinalTotal
	}

	points := 0
	err = e.withTx(ctx, func(sc mongo.SessionContext) error {
		// Payment settles the order: completed, table freed, customer
		// credited, all in this transaction.
		_, err := e.client.Collection(remote.CollOrders).UpdateByID(sc, doc.ID, bson.M{
			"$set": bson.M{
				"paymentStatus": models.PaymentStatusPaid,
				"paymentMethod": method,
				"status":        models.OrderStatusCompleted,
				"kitchenStatus": models.KitchenStatusServed,
				"completedAt":   now,
				"updatedAt":     now,
			},
		})
		if err != nil {
			return err
		}
		if err := e.freeTableDoc(sc, doc, now); err != nil {
			return err
		}

		if doc.Customer != nil {
			points = loyaltyPoints(doc.FinalTotal)
			inc := bson.M{
				"loyaltyPoints": points,
				"totalOrders":   1,
				"totalSpent":    doc.FinalTotal,
			}
			if method == "credit" {
				inc["currentBalance"] = -doc.FinalTotal
				inc["totalDebit"] = doc.FinalTotal
			}
			_, err := e.client.Collection(remote.CollCustomers).UpdateByID(sc, *doc.Customer, bson.M{
				"$inc": inc,
				"$set": bson.M{"lastOrder": now, "updatedAt": now},
			})
			if err != nil {
				return err
			}

			if method == "credit" {
				var customer remote.CustomerDoc
				err := e.client.Collection(remote.CollCustomers).
					FindOne(sc, bson.M{"_id": *doc.Customer}).Decode(&customer)
				if err != nil {
					return err
				}
				_, err = e.client.Collection(remote.CollLedger).InsertOne(sc, remote.LedgerDoc{
					Customer:        *doc.Customer,
					TransactionType: "sale",
					Amount:          doc.FinalTotal,
					Balance:         customer.CurrentBalance,
					Description:     "order " + doc.OrderNumber,
					Date:            now,
					Branch:          doc.Branch,
					CreatedAt:       now,
					UpdatedAt:       now,
				})
				if err != nil {
					return err
				}
			}
		}

		if method != "credit" {
			_, err := e.client.Collection(remote.CollFinance).InsertOne(sc, remote.FinanceDoc{
				Type:        "income",
				Amount:      doc.FinalTotal,
				Description: "order " + doc.OrderNumber,
				Date:        now,
				Branch:      doc.Branch,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventPaymentProcessed,
		OrderID:     doc.ID.Hex(),
		OrderNumber: doc.OrderNumber,
		BranchID:    doc.Branch.Hex(),
		Status:      models.OrderStatusCompleted,
		TotalAmount: doc.FinalTotal,
	})

	return &PaymentResult{
		OrderID:       doc.ID.Hex(),
		OrderNumber:   doc.OrderNumber,
		FinalTotal:    doc.FinalTotal,
		AmountPaid:    input.Amount,
		Change:        change,
		LoyaltyPoints: points,
	}, nil
}

func (e *MongoEngine) UpdateOrder(ctx context.Context, id string, input UpdateOrderInput) (*Order, error) {
	doc, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if isTerminal(doc.Status) {
		return nil, apperrors.Conflict("order %s is already %s", doc.OrderNumber, doc.Status)
	}
	if doc.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperrors.Conflict("order %s is already paid", doc.OrderNumber)
	}

	now := time.Now()
	err = e.withTx(ctx, func(sc mongo.SessionContext) error {
		subtotal := doc.Subtotal
		items := doc.Items

		if len(input.Items) > 0 {
			for _, it := range doc.Items {
				_, err := e.client.Collection(remote.CollProducts).UpdateByID(sc, it.Product, bson.M{
					"$inc": bson.M{"stock": it.Quantity, "salesCount": -it.Quantity},
					"$set": bson.M{"updatedAt": now},
				})
				if err != nil {
					return err
				}
			}

			subtotal = 0
			items = nil
			for _, itemReq := range input.Items {
				if itemReq.Quantity <= 0 {
					return apperrors.Validation("items", "item quantity must be positive")
				}
				productOID, err := oidFrom("product", itemReq.ProductID)
				if err != nil {
					return err
				}
				var product remote.ProductDoc
				err = e.client.Collection(remote.CollProducts).FindOne(sc, bson.M{"_id": productOID, "branch": doc.Branch}).Decode(&product)
				if errors.Is(err, mongo.ErrNoDocuments) {
					return apperrors.NotFound("product", itemReq.ProductID)
				}
				if err != nil {
					return err
				}
				if product.Stock < itemReq.Quantity {
					return apperrors.Validation("items",
						"insufficient stock for %s: have %d, need %d", product.Name, product.Stock, itemReq.Quantity)
				}

				_, err = e.client.Collection(remote.CollProducts).UpdateByID(sc, productOID, bson.M{
					"$inc": bson.M{"stock": -itemReq.Quantity, "salesCount": itemReq.Quantity},
					"$set": bson.M{"updatedAt": now},
				})
				if err != nil {
					return err
				}

				total := lineTotal(product.Price, itemReq.Quantity)
				items = append(items, remote.OrderItemDoc{
					Product:     productOID,
					ProductName: product.Name,
					Quantity:    itemReq.Quantity,
					Price:       product.Price,
					Total:       total,
					Notes:       itemReq.Notes,
				})
				subtotal += total
			}
		}

		discount := doc.Discount
		if input.Discount != nil {
			discount = *input.Discount
		}
		tip := doc.Tip
		if input.Tip != nil {
			tip = *input.Tip
		}

		var branch remote.BranchDoc
		if err := e.client.Collection(remote.CollBranches).FindOne(sc, bson.M{"_id": doc.Branch}).Decode(&branch); err != nil {
			return err
		}
		taxRate, serviceRate := rates(models.BranchSettings{
			TaxRate:       branch.Settings.TaxRate,
			ServiceCharge: branch.Settings.ServiceCharge,
		})
		totals := calcTotals(subtotal, taxRate, serviceRate, discount, tip)

		set := bson.M{
			"items":         items,
			"subtotal":      totals.Subtotal,
			"tax":           totals.Tax,
			"serviceCharge": totals.ServiceCharge,
			"discount":      totals.Discount,
			"tip":           totals.Tip,
			"finalTotal":    totals.FinalTotal,
			"updatedAt":     now,
		}
		if input.KitchenNotes != nil {
			set["kitchenNotes"] = *input.KitchenNotes
		}

		_, err := e.client.Collection(remote.CollOrders).UpdateByID(sc, doc.ID, bson.M{"$set": set})
		return err
	})
	if err != nil {
		return nil, err
	}

	updated, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderUpdated,
		OrderID:     updated.ID.Hex(),
		OrderNumber: updated.OrderNumber,
		BranchID:    updated.Branch.Hex(),
		Status:      updated.Status,
		TotalAmount: updated.FinalTotal,
	})
	return viewFromDoc(updated), nil
}

func (e *MongoEngine) DeleteOrder(ctx context.Context, id string) error {
	doc, err := e.loadOrderDoc(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == models.OrderStatusCompleted {
		return apperrors.Conflict("completed order %s cannot be deleted", doc.OrderNumber)
	}

	now := time.Now()
	err = e.withTx(ctx, func(sc mongo.SessionContext) error {
		if doc.Status != models.OrderStatusCancelled {
			if err := e.reverseOrderDoc(sc, doc, now); err != nil {
				return err
			}
		}
		_, err := e.client.Collection(remote.CollOrders).DeleteOne(sc, bson.M{"_id": doc.ID})
		return err
	})
	if err != nil {
		return err
	}

	e.pub.Publish(ctx, events.Event{
		EventType:   events.EventOrderDeleted,
		OrderID:     doc.ID.Hex(),
		OrderNumber: doc.OrderNumber,
		BranchID:    doc.Branch.Hex(),
	})
	return nil
}

func (e *MongoEngine) OrderStats(ctx context.Context, branchID string, from, to time.Time) (*Stats, error) {
	stats, err := e.store.AggregateOrderStats(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalOrders:       stats.TotalOrders,
		TotalRevenue:      stats.TotalRevenue,
		CompletedOrders:   stats.CompletedOrders,
		PendingOrders:     stats.PendingOrders,
		AverageOrderValue: stats.AverageOrderValue,
	}, nil
}

func (e *MongoEngine) KitchenStats(ctx context.Context, branchID string) (map[string]int64, error) {
	return e.store.AggregateKitchenStats(ctx, branchID)
}
