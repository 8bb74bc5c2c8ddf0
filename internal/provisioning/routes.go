package provisioning

import (
	"github.com/gin-gonic/gin"

	"github.com/openidx/scim-engine/internal/scim"
)

// RegisterRoutes mounts the SCIM endpoints under /:domain/scim. The given
// middleware (authentication first) runs before every handler.
func RegisterRoutes(router gin.IRouter, svc *Service, middleware ...gin.HandlerFunc) {
	group := router.Group("/:domain/scim")
	group.Use(middleware...)
	{
		// Discovery
		group.GET("/ServiceProviderConfig", svc.handleServiceProviderConfig)
		group.GET("/Schemas", svc.handleListSchemas)
		group.GET("/Schemas/:id", svc.handleGetSchema)
		group.GET("/ResourceTypes", svc.handleListResourceTypes)
		group.GET("/ResourceTypes/:id", svc.handleGetResourceType)

		// Users and Groups
		for _, rt := range []scim.ResourceType{scim.ResourceUser, scim.ResourceGroup} {
			collection := "/" + rt.Endpoint()
			group.GET(collection, svc.handleList(rt))
			group.POST(collection, svc.handleCreate(rt))
			group.GET(collection+"/:id", svc.handleGet(rt))
			group.PUT(collection+"/:id", svc.handleReplace(rt))
			group.PATCH(collection+"/:id", svc.handlePatch(rt))
			group.DELETE(collection+"/:id", svc.handleDelete(rt))
		}

		group.POST("/Bulk", svc.handleBulk)
	}
}
