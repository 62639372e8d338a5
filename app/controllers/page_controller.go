package controllers

import (
	"context"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/analytics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// PageController serves page-editor documents. Content always passes through
// the page.render hook before it leaves the server.
type PageController struct {
	hooks   HookCaller
	tracker EventTracker
}

func NewPageController(hooks HookCaller, tracker EventTracker) *PageController {
	return &PageController{hooks: hooks, tracker: tracker}
}

type pageInput struct {
	Title     *string `json:"title"`
	Slug      *string `json:"slug"`
	Content   *string `json:"content"`
	Layout    *string `json:"layout"`
	MetaTitle *string `json:"meta_title"`
	IsActive  *bool   `json:"is_active"`
}

func (in pageInput) apply(p *models.Page) {
	if in.Title != nil {
		p.Title = *in.Title
	}
	if in.Slug != nil {
		p.Slug = *in.Slug
	}
	if in.Content != nil {
		p.Content = *in.Content
	}
	if in.Layout != nil {
		p.Layout = *in.Layout
	}
	if in.MetaTitle != nil {
		p.MetaTitle = *in.MetaTitle
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
}

// renderContent runs the page.render processing hook. Handlers may return a
// new content string or an object carrying a content field.
func (pc *PageController) renderContent(ctx context.Context, tenantID uint, page *models.Page) string {
	out := pc.hooks.CallHook(ctx, hooks.PageRender, map[string]any{
		"id":      page.ID,
		"slug":    page.Slug,
		"title":   page.Title,
		"content": page.Content,
	}, pluginapi.HookMeta{TenantID: tenantID})

	switch v := out.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["content"].(string); ok {
			return s
		}
	}
	return page.Content
}

// HandleList returns published pages without their content.
func (pc *PageController) HandleList(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	pages, err := repos.Page.GetActive()
	if err != nil {
		return repoError(c, err, "pages")
	}
	list := make([]fiber.Map, 0, len(pages))
	for _, p := range pages {
		list = append(list, fiber.Map{"id": p.ID, "title": p.Title, "slug": p.Slug, "published_at": p.PublishedAt})
	}
	return c.JSON(fiber.Map{"pages": list})
}

func (pc *PageController) HandleGet(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	page, err := repos.Page.GetBySlug(c.Params("slug"))
	if err != nil {
		return repoError(c, err, "page")
	}
	rendered := *page
	rendered.Content = pc.renderContent(c.UserContext(), tenantctx.TenantID(c), page)
	return c.JSON(rendered)
}

// HandleRender serves a published page as HTML.
func (pc *PageController) HandleRender(c *fiber.Ctx) error {
	tc, ok := tenantctx.Get(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).Render("not_found", fiber.Map{"Title": "Not found"}, "layouts/main")
	}
	page, err := tenantctx.Repos(c).Page.GetBySlug(c.Params("slug"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).Render("not_found", fiber.Map{
			"Title":  "Not found",
			"Tenant": tc.Tenant,
		}, "layouts/main")
	}

	content := pc.renderContent(c.UserContext(), tc.Tenant.ID, page)
	pc.tracker.TrackBestEffort(c.UserContext(), jobqueue.AnalyticsEventPayload{
		TenantID: tc.Tenant.ID,
		Name:     analytics.EventPageView,
		Path:     c.Path(),
	})

	title := page.MetaTitle
	if title == "" {
		title = page.Title
	}
	return c.Render("page", fiber.Map{
		"Title":   title,
		"Tenant":  tc.Tenant,
		"Page":    page,
		"Content": template.HTML(content),
		"Year":    time.Now().Year(),
	}, "layouts/main")
}

// HandleAdminList returns every page, drafts included, with raw content.
func (pc *PageController) HandleAdminList(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	pages, err := repos.Page.GetAll()
	if err != nil {
		return repoError(c, err, "pages")
	}
	return c.JSON(fiber.Map{"pages": pages})
}

func (pc *PageController) HandleCreate(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	var in pageInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}

	page := &models.Page{IsActive: true, Layout: "default"}
	in.apply(page)
	if page.Slug != "" {
		exists, err := repos.Page.SlugExists(page.Slug)
		if err != nil {
			return repoError(c, err, "page")
		}
		if exists {
			return jsonError(c, fiber.StatusConflict, "slug_taken", "A page with this slug already exists")
		}
	}
	if err := repos.Page.Create(page); err != nil {
		return repoError(c, err, "page")
	}
	return c.Status(fiber.StatusCreated).JSON(page)
}

func (pc *PageController) HandleUpdate(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid page id")
	}
	page, err := repos.Page.GetByID(id)
	if err != nil {
		return repoError(c, err, "page")
	}

	var in pageInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	in.apply(page)

	exists, err := repos.Page.SlugExistsExceptID(page.Slug, page.ID)
	if err != nil {
		return repoError(c, err, "page")
	}
	if exists {
		return jsonError(c, fiber.StatusConflict, "slug_taken", "A page with this slug already exists")
	}
	if err := repos.Page.Update(page); err != nil {
		return repoError(c, err, "page")
	}
	return c.JSON(page)
}

func (pc *PageController) HandleDelete(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid page id")
	}
	if _, err := repos.Page.GetByID(id); err != nil {
		return repoError(c, err, "page")
	}
	if err := repos.Page.Delete(id); err != nil {
		return repoError(c, err, "page")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
