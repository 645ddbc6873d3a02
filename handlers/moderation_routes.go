// handlers/moderation_routes.go
package handlers

import (
	"log"

	"challenge-proof-system/middleware"
	"challenge-proof-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupModerationRoutes(app *fiber.App, participationService *services.ParticipationService, moderationService *services.ModerationService) {
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireModerator())

	// The review queue, newest first. Optional ?challenge_id filter.
	adminGroup.Get("/moderation/pending", func(c *fiber.Ctx) error {
		pending, err := moderationService.ListPending(c.Query("challenge_id"))
		if err != nil {
			log.Printf("DB Error fetching pending queue: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch pending participations"})
		}
		return c.JSON(pending)
	})

	adminGroup.Get("/moderation/counts/:challengeID", func(c *fiber.Ctx) error {
		counts, err := moderationService.Counts(c.Params("challengeID"))
		if err != nil {
			log.Printf("DB Error counting participations: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count participations"})
		}
		return c.JSON(counts)
	})

	adminGroup.Post("/participations/:id/approve", func(c *fiber.Ctx) error {
		var req struct {
			OverrideAmount *int `json:"override_amount"`
		}
		// Empty body is fine — override is optional
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
			}
		}
		if req.OverrideAmount != nil && *req.OverrideAmount <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "override_amount must be positive"})
		}

		participation, err := participationService.Approve(c.Params("id"), req.OverrideAmount)
		if err != nil {
			return respondServiceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "Participation approved", "participation": participation})
	})

	adminGroup.Post("/participations/:id/reject", func(c *fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		participation, err := participationService.Reject(c.Params("id"), req.Reason)
		if err != nil {
			return respondServiceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "Participation rejected", "participation": participation})
	})

	// Bulk approval. Returns the count actually transitioned — rows that
	// raced to a terminal state mid-batch are skipped, not errored.
	adminGroup.Post("/challenges/:challengeID/approve-all", func(c *fiber.Ctx) error {
		count, err := participationService.ApproveAllPending(c.Params("challengeID"))
		if err != nil {
			log.Printf("❌ Bulk approval failed for challenge %s after %d approvals: %v", c.Params("challengeID"), count, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":          "bulk approval aborted",
				"approved_count": count,
			})
		}
		return c.JSON(fiber.Map{"approved_count": count})
	})
}
