package handler

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"webmapapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, mapSvc service.MapService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Post("/post-map", PostMap(mapSvc))

	app.Get("/maps", ListMaps(mapSvc))
	app.Get("/maps/:id", GetMap(mapSvc))
	app.Delete("/maps/:id", DeleteMap(mapSvc))
}

// HealthCheck godoc
// @Summary Readiness probe
// @Description Checks database connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if db == nil || db.PingContext(ctx) != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// PostMap godoc
// @Summary Publish a map
// @Description Converts the raw request body into a map file, uploads it to the GIS portal as a new item and shares it.
// @Description Every request creates a new item. The response body is the item URL.
// @Tags maps
// @Accept */*
// @Produce plain
// @Param payload body string true "Map payload"
// @Success 200 {string} string "Item URL"
// @Failure 413 {object} errorPayload
// @Failure 422 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /post-map [post]
func PostMap(mapSvc service.MapService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// fasthttp reuses the body buffer after the handler returns.
		payload := append([]byte(nil), c.Body()...)

		pub, err := mapSvc.Publish(c.UserContext(), payload)
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderLocation, pub.ItemURL)
		c.Type("txt", "utf-8")
		return c.Status(fiber.StatusOK).SendString(pub.ItemURL)
	}
}

// ListMaps godoc
// @Summary List published maps
// @Tags maps
// @Produce json
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.PublicationListResult
// @Failure 400 {object} errorPayload
// @Router /maps [get]
func ListMaps(mapSvc service.MapService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil || limit < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil || offset < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := mapSvc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetMap godoc
// @Summary Get a published map
// @Tags maps
// @Produce json
// @Param id path string true "Publication ID"
// @Success 200 {object} model.PublicationDetail
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /maps/{id} [get]
func GetMap(mapSvc service.MapService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		pub, err := mapSvc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(pub)
	}
}

// DeleteMap godoc
// @Summary Unpublish a map
// @Description Deletes the GIS item, its staged map file and the publication record.
// @Tags maps
// @Param id path string true "Publication ID"
// @Success 204
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /maps/{id} [delete]
func DeleteMap(mapSvc service.MapService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := mapSvc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
