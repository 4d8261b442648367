package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
)

type hierarchyApi struct {
	svc      *hierarchy.Service
	validate *validator.Validate
}

func registerHierarchyAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *hierarchy.Service, validate *validator.Validate) {
	api := hierarchyApi{svc: svc, validate: validate}

	sg := g.Group("/structures", jwt, adminMiddleware())
	sg.GET("", api.queryStructures)
	sg.POST("", api.createStructure)

	sdg := sg.Group("/:sid", structureMiddleware(svc))
	sdg.GET("", api.retrieveStructure)
	sdg.PUT("", api.updateStructure)
	sdg.DELETE("", api.destroyStructure)
	sdg.POST("/default", api.setDefaultStructure)
	sdg.GET("/nodes", api.queryNodes)
	sdg.POST("/nodes", api.createNode)
	sdg.GET("/nodes/check-name", api.checkNodeName)
	sdg.GET("/tree", api.tree)

	g.GET("/nodes/managed", api.managedNodes, jwt)

	// managers reach the subtrees they manage, structural changes stay with admins
	ng := g.Group("/nodes/:nid", jwt, nodeMiddleware(svc), nodeAccessMiddleware(svc))
	ng.GET("", api.retrieveNode)
	ng.PUT("", api.updateNode)
	ng.DELETE("", api.destroyNode, adminMiddleware())
	ng.POST("/move", api.moveNode, adminMiddleware())
	ng.GET("/members", api.queryMembers)
	ng.POST("/members", api.addMember)
	ng.DELETE("/members/:uid", api.removeMember)
	ng.GET("/courses", api.queryCourses)
	ng.POST("/courses", api.assignCourses)
	ng.DELETE("/courses/:aid", api.cancelCourse)
}

// Structures

func (api *hierarchyApi) queryStructures(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	structures, err := api.svc.QueryStructures(ctx.Request().Context(), claims.OrganizationID)
	if err != nil {
		return errors.Wrap(err, "querying structures")
	}
	if structures == nil {
		structures = []hierarchy.Structure{}
	}
	return ctx.JSON(http.StatusOK, structures)
}

func (api *hierarchyApi) createStructure(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data hierarchy.NewStructure
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStructure")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	data.OrganizationID = claims.OrganizationID

	st, err := api.svc.CreateStructure(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating structure")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *hierarchyApi) retrieveStructure(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *hierarchyApi) updateStructure(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	var data hierarchy.UpdateStructure
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStructure")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	st, err = api.svc.UpdateStructure(ctx.Request().Context(), st, data)
	if err != nil {
		return errors.Wrap(err, "updating structure")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *hierarchyApi) destroyStructure(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteStructure(ctx.Request().Context(), st); err != nil {
		return errors.Wrap(err, "deleting structure")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *hierarchyApi) setDefaultStructure(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	st, err = api.svc.SetDefaultStructure(ctx.Request().Context(), st)
	if err != nil {
		return errors.Wrap(err, "setting default structure")
	}
	return ctx.JSON(http.StatusOK, st)
}

// Nodes

func (api *hierarchyApi) queryNodes(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	nodes, err := api.svc.QueryNodes(ctx.Request().Context(), st.ID)
	if err != nil {
		return errors.Wrap(err, "querying nodes")
	}
	return ctx.JSON(http.StatusOK, nodes)
}

func (api *hierarchyApi) tree(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	forest, err := api.svc.GetTree(ctx.Request().Context(), st.ID)
	if err != nil {
		return errors.Wrap(err, "building tree")
	}
	observeForest(forest)
	return ctx.JSON(http.StatusOK, forest)
}

func (api *hierarchyApi) createNode(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	var data hierarchy.NewNode
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNode")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	node, err := api.svc.CreateNode(ctx.Request().Context(), st, data)
	if err != nil {
		return errors.Wrap(err, "creating node")
	}
	return ctx.JSON(http.StatusCreated, node)
}

func (api *hierarchyApi) checkNodeName(ctx echo.Context) error {
	st, err := contextStructure(ctx)
	if err != nil {
		return err
	}
	name := core.CleanString(ctx.QueryParam("name"), false)
	if name == "" {
		return core.NewFieldValidationError("name", errors.New("this field is required"))
	}
	var parentID *string
	if pid := ctx.QueryParam("parent_id"); pid != "" {
		parentID = &pid
	}

	ok, err := api.svc.IsNameAvailable(ctx.Request().Context(), st.ID, parentID, name, ctx.QueryParam("exclude_id"))
	if err != nil {
		return errors.Wrap(err, "checking node name")
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"available": ok})
}

func (api *hierarchyApi) managedNodes(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	nodes, err := api.svc.ManagedNodes(ctx.Request().Context(), claims.OrganizationID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying managed nodes")
	}
	return ctx.JSON(http.StatusOK, nodes)
}

func (api *hierarchyApi) retrieveNode(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	details, err := api.svc.GetNodeDetails(ctx.Request().Context(), node)
	if err != nil {
		return errors.Wrap(err, "getting node details")
	}
	return ctx.JSON(http.StatusOK, details)
}

func (api *hierarchyApi) updateNode(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	var data hierarchy.UpdateNode
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateNode")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	node, err = api.svc.UpdateNode(ctx.Request().Context(), node, data)
	if err != nil {
		return errors.Wrap(err, "updating node")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *hierarchyApi) moveNode(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	var data hierarchy.MoveNode
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveNode")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	node, err = api.svc.MoveNode(ctx.Request().Context(), node, data)
	if err != nil {
		return errors.Wrap(err, "moving node")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *hierarchyApi) destroyNode(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteNode(ctx.Request().Context(), node, boolQueryParam(ctx, "cascade")); err != nil {
		return errors.Wrap(err, "deleting node")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Members

func (api *hierarchyApi) queryMembers(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	members, err := api.svc.QueryMembers(ctx.Request().Context(), node.ID)
	if err != nil {
		return errors.Wrap(err, "querying members")
	}
	return ctx.JSON(http.StatusOK, members)
}

func (api *hierarchyApi) addMember(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	var data hierarchy.NewMember
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMember")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	m, err := api.svc.AddMember(ctx.Request().Context(), node, data)
	if err != nil {
		return errors.Wrap(err, "adding member")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *hierarchyApi) removeMember(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.RemoveMember(ctx.Request().Context(), node.ID, ctx.Param("uid")); err != nil {
		return errors.Wrap(err, "removing member")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Course assignments

func (api *hierarchyApi) queryCourses(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	assignments, err := api.svc.QueryCourseAssignments(ctx.Request().Context(), node, boolQueryParam(ctx, "inherited"))
	if err != nil {
		return errors.Wrap(err, "querying course assignments")
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *hierarchyApi) assignCourses(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data hierarchy.NewCourseAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourseAssignment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	created, err := api.svc.AssignCourses(ctx.Request().Context(), node, data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "assigning courses")
	}
	return ctx.JSON(http.StatusCreated, created)
}

func (api *hierarchyApi) cancelCourse(ctx echo.Context) error {
	node, err := contextNode(ctx)
	if err != nil {
		return err
	}
	ca, err := api.svc.CancelCourseAssignment(ctx.Request().Context(), node, ctx.Param("aid"))
	if err != nil {
		return errors.Wrap(err, "cancelling course assignment")
	}
	return ctx.JSON(http.StatusOK, ca)
}
