// handlers/participation_routes.go
package handlers

import (
	"errors"
	"log"

	"challenge-proof-system/middleware"
	"challenge-proof-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupParticipationRoutes(app *fiber.App, participationService *services.ParticipationService, ledgerService *services.LedgerService) {
	// 🔐 Secured routes — require user context from the Gateway
	securedGroup := app.Group("/s", middleware.UserContextMiddleware())

	// Submit proof for a challenge. Synchronous envelope: waits for
	// adjudication (bounded) so the client can render the result directly.
	securedGroup.Post("/participations", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			ChallengeID       string  `json:"challenge_id"`
			ResultValue       *int    `json:"result_value"`
			PrimaryProofURL   string  `json:"primary_proof_url"`
			SecondaryProofURL *string `json:"secondary_proof_url"`
			ConfirmedPublic   bool    `json:"confirmed_public"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.ChallengeID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "challenge_id is required"})
		}

		participation, err := participationService.Submit(c.UserContext(), services.SubmitInput{
			UserID:            userID,
			ChallengeID:       req.ChallengeID,
			ResultValue:       req.ResultValue,
			PrimaryProofURL:   req.PrimaryProofURL,
			SecondaryProofURL: req.SecondaryProofURL,
			ConfirmedPublic:   req.ConfirmedPublic,
		})
		if err != nil {
			return respondServiceError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"participation":     participation,
			"primary_verdict":   participation.PrimaryVerdict,
			"secondary_verdict": participation.SecondaryVerdict,
		})
	})

	// The member's own submission history, newest first
	securedGroup.Get("/participations", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		parts, err := participationService.ListForUser(userID, c.Query("challenge_id"))
		if err != nil {
			log.Printf("DB Error fetching participations for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch participations"})
		}
		return c.JSON(parts)
	})

	// Poll one participation. The server-side status is the single source of
	// truth the UI renders.
	securedGroup.Get("/participations/:id", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		participation, err := participationService.Get(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Participation not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		if participation.UserID != userID {
			// Don't leak other members' submissions
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Participation not found"})
		}
		return c.JSON(participation)
	})

	// The member's own ledger balance
	securedGroup.Get("/balance", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		balance, err := ledgerService.GetBalance(userID)
		if err != nil {
			log.Printf("DB Error summing ledger for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch balance"})
		}
		return c.JSON(fiber.Map{"user_id": userID, "balance": balance})
	})

	// Service-to-service balance read for the ranking feed. Gateway token is
	// enforced globally; no user context here.
	app.Get("/internal/balances/:userID", func(c *fiber.Ctx) error {
		userID := c.Params("userID")

		balance, err := ledgerService.GetBalance(userID)
		if err != nil {
			log.Printf("DB Error summing ledger for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch balance"})
		}
		return c.JSON(fiber.Map{"user_id": userID, "balance": balance})
	})
}

// respondServiceError maps the domain error taxonomy onto HTTP statuses.
func respondServiceError(c *fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case services.IsConflictError(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case services.IsInvariantViolation(err):
		log.Printf("🚨 INVARIANT VIOLATION: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal inconsistency detected"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	default:
		log.Printf("❌ Unhandled service error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
