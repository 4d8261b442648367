package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/orgpanel/core/hierarchy"
)

const (
	contextStructureKey = "structure"
	contextNodeKey      = "node"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// structureMiddleware loads the `:sid` structure of the ctx user organization.
func structureMiddleware(svc *hierarchy.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			st, err := svc.GetStructure(ctx.Request().Context(), claims.OrganizationID, ctx.Param("sid"))
			if err != nil {
				return errors.Wrap(err, "getting structure")
			}
			ctx.Set(contextStructureKey, st)
			return next(ctx)
		}
	}
}

// nodeMiddleware loads the `:nid` node of the ctx user organization.
func nodeMiddleware(svc *hierarchy.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			node, err := svc.GetNode(ctx.Request().Context(), claims.OrganizationID, ctx.Param("nid"))
			if err != nil {
				return errors.Wrap(err, "getting node")
			}
			ctx.Set(contextNodeKey, node)
			return next(ctx)
		}
	}
}

// nodeAccessMiddleware lets admins through, and managers of the ctx node or one of its ancestors.
// It must run after nodeMiddleware.
func nodeAccessMiddleware(svc *hierarchy.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin {
				return next(ctx)
			}
			if !claims.IsManager {
				return errHttpForbidden
			}

			node, err := contextNode(ctx)
			if err != nil {
				return err
			}
			ok, err := svc.IsManagedBy(ctx.Request().Context(), node, claims.Subject)
			if err != nil {
				return errors.Wrap(err, "checking node manager")
			}
			if !ok {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func contextStructure(ctx echo.Context) (hierarchy.Structure, error) {
	st, ok := ctx.Get(contextStructureKey).(hierarchy.Structure)
	if !ok {
		return hierarchy.Structure{}, errors.New("structure not found in echo.Context")
	}
	return st, nil
}

func contextNode(ctx echo.Context) (hierarchy.Node, error) {
	node, ok := ctx.Get(contextNodeKey).(hierarchy.Node)
	if !ok {
		return hierarchy.Node{}, errors.New("node not found in echo.Context")
	}
	return node, nil
}
