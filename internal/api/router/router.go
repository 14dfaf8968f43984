package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/formyhq/editflow/internal/api/handlers/edit"
	"github.com/formyhq/editflow/internal/middleware"
)

// Setup wires the routes. resultDir, when non-empty, is served as static
// content under /results (the local storage backend).
func Setup(h *edit.Handler, resultDir string) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.POST("/upload", h.Upload)            // uploading input image
	api.POST("/edit", h.CreateTask)          // creating edit task
	api.GET("/task/:id", h.GetTask)          // task status snapshot
	api.GET("/plans", h.Plans)               // plan catalog
	api.GET("/balance/:user_id", h.Balance)  // credit balance

	r.GET("/health", h.Health)

	if resultDir != "" {
		r.Static("/results", resultDir)
	}

	return r
}
