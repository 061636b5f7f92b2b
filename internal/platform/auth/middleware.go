package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const ActorKey contextKey = "actor"

// Role is the single role carried by an authenticated actor.
type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
	RoleLabTech    Role = "LAB_TECH"
	RolePharmacist Role = "PHARMACIST"
)

var knownRoles = map[Role]bool{
	RolePatient: true, RoleDoctor: true, RoleAdmin: true, RoleLabTech: true, RolePharmacist: true,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return knownRoles[r]
}

// Actor identifies the caller of a request.
type Actor struct {
	ID     uuid.UUID
	Role   Role
	Active bool
}

// IsAdmin is true for administrators, who may act on any record.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	Active *bool  `json:"active,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				return err
			}
			return admitActor(c, actor, next)
		}
	}
}

func actorFromClaims(claims *Claims) (Actor, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a valid id")
	}
	role := Role(strings.ToUpper(claims.Role))
	if !role.Valid() {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "token carries an unknown role")
	}
	active := true
	if claims.Active != nil {
		active = *claims.Active
	}
	return Actor{ID: id, Role: role, Active: active}, nil
}

// admitActor rejects inactive actors and stores the actor on the request context.
func admitActor(c echo.Context, actor Actor, next echo.HandlerFunc) error {
	if !actor.Active {
		return echo.NewHTTPError(http.StatusForbidden, "account is inactive")
	}
	c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
	return next(c)
}

const (
	DevActorIDHeader   = "X-Actor-ID"
	DevActorRoleHeader = "X-Actor-Role"
)

// DevAuthMiddleware trusts X-Actor-ID and X-Actor-Role headers so several
// parties can be exercised locally without a token issuer. Requests without
// the headers act as a fixed admin.
func DevAuthMiddleware() echo.MiddlewareFunc {
	devAdmin := Actor{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Role: RoleAdmin, Active: true}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawID := c.Request().Header.Get(DevActorIDHeader)
			if rawID == "" {
				return admitActor(c, devAdmin, next)
			}
			id, err := uuid.Parse(rawID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+DevActorIDHeader)
			}
			role := Role(strings.ToUpper(c.Request().Header.Get(DevActorRoleHeader)))
			if !role.Valid() {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+DevActorRoleHeader)
			}
			return admitActor(c, Actor{ID: id, Role: role, Active: true}, next)
		}
	}
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext returns the request's actor; ok is false when the request
// was not authenticated.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(Actor)
	return actor, ok
}
