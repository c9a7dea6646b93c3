// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

// @title Food Delivery Dispatch API
// @version 1.0
// @description Order assignment, live tracking and delivery completion.
// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/signin": {"post": {"tags": ["auth"], "summary": "Start a session", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/auth/me": {"get": {"tags": ["auth"], "summary": "Current identity", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/auth/signout": {"post": {"tags": ["auth"], "summary": "End the session", "security": [{"ApiKeyAuth": []}], "responses": {"204": {"description": "No Content"}}}},
        "/orders": {
            "get": {"tags": ["orders"], "summary": "Orders of the caller", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["orders"], "summary": "Place an order", "security": [{"ApiKeyAuth": []}], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/orders/{id}": {"get": {"tags": ["orders"], "summary": "Order snapshot", "security": [{"ApiKeyAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}}},
        "/orders/{id}/shop-orders/{shopOrderId}/status": {"put": {"tags": ["orders"], "summary": "Move a shop order forward", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/orders/{id}/shop-orders/{shopOrderId}/delivery-code": {"post": {"tags": ["delivery"], "summary": "Issue a delivery code", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/orders/{id}/shop-orders/{shopOrderId}/delivery-code/verify": {"post": {"tags": ["delivery"], "summary": "Complete a delivery", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "410": {"description": "Gone"}}}},
        "/delivery/assignments": {"get": {"tags": ["delivery"], "summary": "Open offers for the courier", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/delivery/assignments/{id}/accept": {"post": {"tags": ["delivery"], "summary": "Accept an offer", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "410": {"description": "Gone"}}}},
        "/delivery/current": {"get": {"tags": ["delivery"], "summary": "The delivery the courier is carrying", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/delivery/stats": {"get": {"tags": ["delivery"], "summary": "Courier earnings", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/delivery/location": {"post": {"tags": ["delivery"], "summary": "Report the courier position", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/chat/order/{orderId}/{shopOrderId}": {"get": {"tags": ["chat"], "summary": "Open the chat of a shop order", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/chat/{id}": {"get": {"tags": ["chat"], "summary": "Chat with its messages", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/chat/{id}/message": {"post": {"tags": ["chat"], "summary": "Post a chat message", "security": [{"ApiKeyAuth": []}], "responses": {"201": {"description": "Created"}}}},
        "/chat/{id}/read": {"put": {"tags": ["chat"], "summary": "Mark the chat read", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}}
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Food Delivery Dispatch API",
	Description:      "Order assignment, live tracking and delivery completion.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
