package web

import (
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

type actorKey struct{}

// TokenVerifier turns a bearer token into the calling actor.
type TokenVerifier interface {
	Verify(token string) (models.Actor, error)
}

// RequireActor rejects requests without a valid bearer token and stores the
// verified actor for the handlers.
func RequireActor(verifier TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return unauthorized(c, "access token required")
		}

		actor, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(actorKey{}, actor)

		return c.Next()
	}
}

// ActorFrom returns the actor stored by RequireActor.
func ActorFrom(c fiber.Ctx) (models.Actor, bool) {
	actor, ok := c.Locals(actorKey{}).(models.Actor)

	return actor, ok
}
