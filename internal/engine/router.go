package engine

import "github.com/gofiber/fiber/v2"

// RegisterTableRoutes mounts the generic table routes behind middleware.
func RegisterTableRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	g := app.Group("/table", middleware...)

	g.Get("/", h.ListTables)
	g.Get("/:slug/config", h.GetConfig)
	g.Get("/:slug", h.List)
	g.Post("/:slug", h.Post)
	g.Put("/:slug", h.Update)
	g.Delete("/:slug", h.Delete)
}

// RegisterFileRoutes mounts blob downloads for blob-backed tables.
func RegisterFileRoutes(app *fiber.App, h *FileHandler, middleware ...fiber.Handler) {
	for _, t := range h.registry.AllTables() {
		if !t.BlobBacked || t.Endpoints.File == "" {
			continue
		}
		slug := t.Slug
		handlers := append(append([]fiber.Handler{}, middleware...), func(c *fiber.Ctx) error {
			return h.Serve(c, slug)
		})
		app.Get(t.Endpoints.File, handlers...)
	}
}
