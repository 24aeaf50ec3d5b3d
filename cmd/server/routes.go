package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/connectivity"
	"mesa-system/internal/database/models"
	"mesa-system/internal/ledger"
	"mesa-system/internal/orders"
	"mesa-system/internal/purchases"
	"mesa-system/internal/syncsvc"
	"mesa-system/internal/unified"
)

func respondErr(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case apperrors.IsValidation(err):
		code = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		code = http.StatusNotFound
	case apperrors.IsConflict(err):
		code = http.StatusConflict
	case apperrors.IsStoreUnavailable(err):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"success": false, "message": err.Error()})
}

// Query params that translate into entity filters.
var filterParams = []string{
	"branch", "status", "category", "role", "phone", "sku",
	"name", "branchCode", "number", "email", "username",
}

var boolFilterParams = []string{"isActive", "active", "isAvailable"}

func queryFilter(c *gin.Context) map[string]interface{} {
	filter := map[string]interface{}{}
	for _, p := range filterParams {
		if v := c.Query(p); v != "" {
			filter[p] = v
		}
	}
	for _, p := range boolFilterParams {
		if v := c.Query(p); v != "" {
			filter[p] = v == "true"
		}
	}
	return filter
}

func newRouter(db *gorm.DB, layer *unified.Layer, engine orders.Engine, purchaseSvc *purchases.Service, syncSvc *syncsvc.Service, monitor *connectivity.Monitor) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"engine": layer.Engine(),
			"online": monitor.Status(),
		})
	})

	api := r.Group("/api/v1")

	api.POST("/sync/trigger", func(c *gin.Context) {
		result, err := syncSvc.TriggerSync(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
	})

	for _, entity := range []string{"branches", "users", "products", "customers", "tables", "suppliers", "expenses"} {
		registerEntityRoutes(api, entity, layer)
	}

	registerOrderRoutes(api, engine)
	registerPurchaseRoutes(api, purchaseSvc)
	registerLedgerRoutes(api, db)

	return r
}

// localID maps an external id (remote hex, "local-<n>", or a plain number)
// onto the local row id.
func localID(db *gorm.DB, table, ref string) int64 {
	if strings.HasPrefix(ref, "local-") {
		n, _ := strconv.ParseInt(strings.TrimPrefix(ref, "local-"), 10, 64)
		return n
	}
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return n
	}
	var row struct{ ID int64 }
	if err := db.Table(table).Select("id").Where("remote_id = ?", ref).Scan(&row).Error; err != nil {
		return 0
	}
	return row.ID
}

func registerLedgerRoutes(api *gin.RouterGroup, db *gorm.DB) {
	api.GET("/customers/:id/ledger", func(c *gin.Context) {
		customerID := localID(db, models.EntityCustomer, c.Param("id"))
		if customerID == 0 {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "customer not found"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		entries, err := ledger.History(db, customerID, limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": entries})
	})

	api.POST("/customers/:id/payments", func(c *gin.Context) {
		var body struct {
			Amount      float64 `json:"amount"`
			Description string  `json:"description"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}

		customerID := localID(db, models.EntityCustomer, c.Param("id"))
		var customer models.Customer
		res := db.Limit(1).Find(&customer, customerID)
		if res.Error != nil {
			respondErr(c, res.Error)
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "customer not found"})
			return
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			return ledger.RecordPayment(tx, customer.ID, customer.BranchID, body.Amount, body.Description, time.Now())
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func registerEntityRoutes(api *gin.RouterGroup, entity string, layer *unified.Layer) {
	group := api.Group("/" + entity)

	group.GET("", func(c *gin.Context) {
		opts := unified.QueryOptions{Sort: c.Query("sort")}
		if v := c.Query("limit"); v != "" {
			opts.Limit, _ = strconv.Atoi(v)
		}
		if v := c.Query("skip"); v != "" {
			opts.Skip, _ = strconv.Atoi(v)
		}
		docs, err := layer.Find(c.Request.Context(), entity, queryFilter(c), opts)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
	})

	group.GET("/:id", func(c *gin.Context) {
		doc, err := layer.FindOne(c.Request.Context(), entity,
			map[string]interface{}{"_id": c.Param("id")},
			unified.QueryOptions{Populate: c.Query("populate")})
		if err != nil {
			respondErr(c, err)
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
	})

	group.POST("", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		doc, err := layer.Create(c.Request.Context(), entity, body)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": doc})
	})

	group.PUT("/:id", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		if err := layer.Update(c.Request.Context(), entity, c.Param("id"), body); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func registerOrderRoutes(api *gin.RouterGroup, engine orders.Engine) {
	group := api.Group("/orders")

	group.POST("", func(c *gin.Context) {
		var input orders.CreateOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		order, err := engine.CreateOrder(c.Request.Context(), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": order})
	})

	group.GET("", func(c *gin.Context) {
		filter := orders.ListFilter{
			BranchID:      c.Query("branch"),
			Status:        c.Query("status"),
			KitchenStatus: c.Query("kitchenStatus"),
			OrderType:     c.Query("orderType"),
			PaymentStatus: c.Query("paymentStatus"),
		}
		if v := c.Query("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.From = t
			}
		}
		if v := c.Query("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.To = t
			}
		}
		if v := c.Query("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		list, err := engine.ListOrders(c.Request.Context(), filter)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	group.GET("/:id", func(c *gin.Context) {
		order, err := engine.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	group.PUT("/:id", func(c *gin.Context) {
		var input orders.UpdateOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		order, err := engine.UpdateOrder(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	group.PATCH("/:id/status", func(c *gin.Context) {
		var input orders.StatusUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		order, err := engine.UpdateOrderStatus(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	group.POST("/:id/payment", func(c *gin.Context) {
		var input orders.PaymentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		result, err := engine.ProcessPayment(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
	})

	group.DELETE("/:id", func(c *gin.Context) {
		if err := engine.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	api.GET("/stats/orders", func(c *gin.Context) {
		from := time.Now().AddDate(0, 0, -30)
		to := time.Now()
		if v := c.Query("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				from = t
			}
		}
		if v := c.Query("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				to = t
			}
		}
		stats, err := engine.OrderStats(c.Request.Context(), c.Query("branch"), from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
	})

	api.GET("/stats/kitchen", func(c *gin.Context) {
		stats, err := engine.KitchenStats(c.Request.Context(), c.Query("branch"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
	})
}

func registerPurchaseRoutes(api *gin.RouterGroup, svc *purchases.Service) {
	group := api.Group("/purchases")

	group.POST("", func(c *gin.Context) {
		var input purchases.CreatePurchaseInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		purchase, err := svc.CreatePurchase(c.Request.Context(), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": purchase})
	})

	group.GET("", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		list, err := svc.ListPurchases(c.Request.Context(), c.Query("branch"), limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	group.GET("/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid purchase id"})
			return
		}
		purchase, err := svc.GetPurchase(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": purchase})
	})

	po := api.Group("/purchase-orders")

	po.POST("", func(c *gin.Context) {
		var input purchases.CreatePurchaseOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}
		order, err := svc.CreatePurchaseOrder(c.Request.Context(), input)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": order})
	})

	po.GET("", func(c *gin.Context) {
		list, err := svc.ListPurchaseOrders(c.Request.Context(), c.Query("branch"), c.Query("status"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	poID := func(c *gin.Context) (int64, bool) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid purchase order id"})
			return 0, false
		}
		return id, true
	}

	po.POST("/:id/submit", func(c *gin.Context) {
		id, ok := poID(c)
		if !ok {
			return
		}
		order, err := svc.SubmitPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	po.POST("/:id/approve", func(c *gin.Context) {
		id, ok := poID(c)
		if !ok {
			return
		}
		var body struct {
			ApprovedBy string `json:"approvedBy"`
		}
		_ = c.ShouldBindJSON(&body)
		order, err := svc.ApprovePurchaseOrder(c.Request.Context(), id, body.ApprovedBy)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	po.POST("/:id/receive", func(c *gin.Context) {
		id, ok := poID(c)
		if !ok {
			return
		}
		order, err := svc.ReceivePurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})

	po.POST("/:id/cancel", func(c *gin.Context) {
		id, ok := poID(c)
		if !ok {
			return
		}
		order, err := svc.CancelPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})
}
