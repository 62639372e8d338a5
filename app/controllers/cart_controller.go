package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/analytics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// CartSessions maps a visitor session to a cart token per tenant.
type CartSessions interface {
	CartSessionID(c *fiber.Ctx, tenantID uint) (string, error)
	ResetCart(c *fiber.Ctx, tenantID uint) error
}

// CartController runs the storefront cart and checkout.
type CartController struct {
	sessions  CartSessions
	hooks     HookCaller
	tracker   EventTracker
	publisher EventPublisher
	validate  *validator.Validate
}

func NewCartController(sessions CartSessions, hooks HookCaller, tracker EventTracker, publisher EventPublisher) *CartController {
	return &CartController{
		sessions:  sessions,
		hooks:     hooks,
		tracker:   tracker,
		publisher: publisher,
		validate:  validator.New(),
	}
}

type addItemInput struct {
	ProductID uint `json:"product_id" validate:"required"`
	Quantity  int  `json:"quantity" validate:"omitempty,min=1,max=1000"`
}

type checkoutInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

func (cc *CartController) currentCart(c *fiber.Ctx) (*models.Cart, *repository.TenantRepositories, error) {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return nil, nil, errNoTenant
	}
	sessionID, err := cc.sessions.CartSessionID(c, tenantctx.TenantID(c))
	if err != nil {
		return nil, nil, err
	}
	c.Locals(tenantctx.KeyCartSession, sessionID)
	cart, err := repos.Cart.GetOrCreateOpen(sessionID)
	return cart, repos, err
}

var errNoTenant = errors.New("no tenant")

func (cc *CartController) cartError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errNoTenant) {
		return noTenant(c)
	}
	return repoError(c, err, "cart")
}

func cartView(cart *models.Cart) fiber.Map {
	return fiber.Map{
		"id":          cart.ID,
		"status":      cart.Status,
		"items":       cart.Items,
		"total_cents": cart.TotalCents(),
	}
}

func (cc *CartController) HandleGet(c *fiber.Ctx) error {
	cart, _, err := cc.currentCart(c)
	if err != nil {
		return cc.cartError(c, err)
	}
	return c.JSON(cartView(cart))
}

func (cc *CartController) HandleAddItem(c *fiber.Ctx) error {
	var in addItemInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if err := cc.validate.Struct(in); err != nil {
		return repoError(c, err, "cart item")
	}

	cart, repos, err := cc.currentCart(c)
	if err != nil {
		return cc.cartError(c, err)
	}
	item, err := repos.Cart.AddItem(cart.ID, in.ProductID, in.Quantity)
	if err != nil {
		if errors.Is(err, repository.ErrCartClosed) {
			return jsonError(c, fiber.StatusConflict, "cart_closed", err.Error())
		}
		return repoError(c, err, "product")
	}

	tenantID := tenantctx.TenantID(c)
	ctx := c.UserContext()
	cc.hooks.CallHook(ctx, hooks.CartItemAdded, fiber.Map{
		"cart_id":    cart.ID,
		"product_id": item.ProductID,
		"quantity":   item.Quantity,
	}, pluginapi.HookMeta{TenantID: tenantID})
	cc.tracker.TrackBestEffort(ctx, jobqueue.AnalyticsEventPayload{
		TenantID:   tenantID,
		Name:       analytics.EventCartItemAdded,
		SessionID:  cart.SessionID,
		Properties: map[string]interface{}{"product_id": item.ProductID, "quantity": in.Quantity},
	})

	updated, err := repos.Cart.Get(cart.ID)
	if err != nil {
		return repoError(c, err, "cart")
	}
	return c.Status(fiber.StatusCreated).JSON(cartView(updated))
}

func (cc *CartController) HandleRemoveItem(c *fiber.Ctx) error {
	itemID, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid item id")
	}
	cart, repos, err := cc.currentCart(c)
	if err != nil {
		return cc.cartError(c, err)
	}
	if err := repos.Cart.RemoveItem(cart.ID, itemID); err != nil {
		return repoError(c, err, "cart item")
	}
	updated, err := repos.Cart.Get(cart.ID)
	if err != nil {
		return repoError(c, err, "cart")
	}
	return c.JSON(cartView(updated))
}

// HandleCheckout places the order in one transaction. Hooks, analytics and
// webhooks run afterwards and never fail the checkout.
func (cc *CartController) HandleCheckout(c *fiber.Ctx) error {
	var in checkoutInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if err := cc.validate.Struct(in); err != nil {
		return repoError(c, err, "checkout")
	}

	cart, repos, err := cc.currentCart(c)
	if err != nil {
		return cc.cartError(c, err)
	}
	order, err := repos.Cart.Checkout(cart.ID, in.Email)
	switch {
	case errors.Is(err, repository.ErrEmptyCart):
		return jsonError(c, fiber.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, repository.ErrInsufficientStock):
		return jsonError(c, fiber.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, repository.ErrCartClosed):
		return jsonError(c, fiber.StatusConflict, "cart_closed", err.Error())
	case err != nil:
		return repoError(c, err, "checkout")
	}

	tenantID := tenantctx.TenantID(c)
	ctx := c.UserContext()
	event := map[string]interface{}{
		"order_id":    order.ID,
		"cart_id":     order.CartID,
		"email":       order.Email,
		"total_cents": order.TotalCents,
		"currency":    order.Currency,
	}
	cc.hooks.CallHook(ctx, hooks.OrderCreated, event, pluginapi.HookMeta{TenantID: tenantID})
	cc.tracker.TrackBestEffort(ctx, jobqueue.AnalyticsEventPayload{
		TenantID:   tenantID,
		Name:       analytics.EventCheckout,
		SessionID:  cart.SessionID,
		Properties: map[string]interface{}{"order_id": order.ID, "total_cents": order.TotalCents},
	})
	cc.publisher.PublishBestEffort(ctx, tenantID, hooks.OrderCreated, event)

	if err := cc.sessions.ResetCart(c, tenantID); err != nil {
		log.Warnf("[Cart] Could not reset cart session for tenant %d: %v", tenantID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}
